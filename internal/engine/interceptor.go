/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Interceptor Chain
=================

Interceptors are DriftDB's plugin seam. Writes and reads each traverse a
linear pipeline of typed middlewares that can transform the value or veto
the operation:

	client value
	   │  PreWrite (encrypt, stamp, validate, veto)
	   ▼
	stored representation  ──►  WAL / map / cache / indexes
	   │  PostRead (decrypt, strip)
	   ▼
	client value

The stored representation is what persists, replicates and satisfies the
cache-coherence invariant; PostRead only shapes the value handed back to the
caller. PostWrite observes the committed write; PreRead can veto a read.

An interceptor implements Interceptor plus any subset of the four hook
interfaces. Hooks run in registration order for writes and reverse order
for PostRead, so an encrypt-then-compress chain decompresses before it
decrypts.
*/
package engine

// Interceptor is the base interface every middleware implements.
type Interceptor interface {
	Name() string
}

// PreWriteInterceptor transforms or vetoes a value before it is persisted.
type PreWriteInterceptor interface {
	Interceptor
	PreWrite(key string, value interface{}) (interface{}, error)
}

// PostWriteInterceptor observes a committed write.
type PostWriteInterceptor interface {
	Interceptor
	PostWrite(key string, value interface{})
}

// PreReadInterceptor can veto a read before it is served.
type PreReadInterceptor interface {
	Interceptor
	PreRead(key string) error
}

// PostReadInterceptor transforms a value on its way back to the caller.
type PostReadInterceptor interface {
	Interceptor
	PostRead(key string, value interface{}) (interface{}, error)
}

// interceptorChain holds the registered middlewares in order.
type interceptorChain struct {
	all []Interceptor
}

func (c *interceptorChain) use(i Interceptor) {
	c.all = append(c.all, i)
}

func (c *interceptorChain) preWrite(key string, value interface{}) (interface{}, error) {
	for _, i := range c.all {
		if pw, ok := i.(PreWriteInterceptor); ok {
			transformed, err := pw.PreWrite(key, value)
			if err != nil {
				return nil, err
			}
			value = transformed
		}
	}
	return value, nil
}

func (c *interceptorChain) postWrite(key string, value interface{}) {
	for _, i := range c.all {
		if pw, ok := i.(PostWriteInterceptor); ok {
			pw.PostWrite(key, value)
		}
	}
}

func (c *interceptorChain) preRead(key string) error {
	for _, i := range c.all {
		if pr, ok := i.(PreReadInterceptor); ok {
			if err := pr.PreRead(key); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *interceptorChain) postRead(key string, value interface{}) (interface{}, error) {
	for idx := len(c.all) - 1; idx >= 0; idx-- {
		if pr, ok := c.all[idx].(PostReadInterceptor); ok {
			transformed, err := pr.PostRead(key, value)
			if err != nil {
				return nil, err
			}
			value = transformed
		}
	}
	return value, nil
}
