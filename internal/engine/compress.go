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

package engine

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// gzPrefix marks a compressed stored representation.
const gzPrefix = "gz:v1:"

// defaultCompressMinSize is the serialised size below which values are
// stored uncompressed; tiny payloads grow under gzip.
const defaultCompressMinSize = 256

// CompressionInterceptor gzips large values at the interceptor seam.
// Combine it after an EncryptionInterceptor at your peril: ciphertext does
// not compress. Register compression first so writes compress-then-encrypt.
type CompressionInterceptor struct {
	// MinSize is the minimum serialised size to compress; zero means the
	// default of 256 bytes.
	MinSize int
}

// Name implements Interceptor.
func (i *CompressionInterceptor) Name() string { return "compression" }

func (i *CompressionInterceptor) minSize() int {
	if i.MinSize > 0 {
		return i.MinSize
	}
	return defaultCompressMinSize
}

// PreWrite compresses the serialised value when it crosses the size
// threshold; smaller values pass through untouched.
func (i *CompressionInterceptor) PreWrite(key string, value interface{}) (interface{}, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("compression: failed to serialise value for '%s': %w", key, err)
	}
	if len(raw) < i.minSize() {
		return value, nil
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("compression: failed for '%s': %w", key, err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compression: failed for '%s': %w", key, err)
	}
	return gzPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// PostRead decompresses values carrying the compressed representation
// prefix; everything else passes through untouched.
func (i *CompressionInterceptor) PostRead(key string, value interface{}) (interface{}, error) {
	s, ok := value.(string)
	if !ok || !strings.HasPrefix(s, gzPrefix) {
		return value, nil
	}
	compressed, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(s, gzPrefix))
	if err != nil {
		return nil, fmt.Errorf("compression: malformed payload for '%s': %w", key, err)
	}
	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("compression: bad gzip stream for '%s': %w", key, err)
	}
	defer zr.Close()
	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("compression: decompression failed for '%s': %w", key, err)
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("compression: failed to deserialise value for '%s': %w", key, err)
	}
	return out, nil
}
