// Licensed to Elasticsearch B.V. under one or more contributor
// license agreements. See the NOTICE file distributed with
// this work for additional information regarding copyright
// ownership. Elasticsearch B.V. licenses this file to you under
// the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

// Package keypath turns a stream of JSON parse events into dotted
// key-path leaf callbacks. The admin socket replies are flat or nested
// objects of numbers plus the occasional fsid string; this is not a
// general JSON library and deliberately ignores everything else.
package keypath

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
)

// MaxDepth bounds the key stack. Admin socket replies nest two or three
// levels deep; anything past this is a malformed or hostile reply.
const MaxDepth = 512

// ErrDepthExceeded is returned when a reply nests deeper than MaxDepth.
var ErrDepthExceeded = errors.New("json depth exceeds maximum")

// fsidLen is the textual length of a cluster fsid (a UUID).
const fsidLen = 36

// Result instructs the reducer how to proceed after a leaf callback.
type Result int

const (
	// Handled means the leaf was consumed (or deliberately skipped).
	Handled Result = iota
	// RetryFullPath asks the reducer to re-deliver the leaf with the
	// trailing avgcount/sum segment appended to the key path. Outside a
	// sum/count pair context the leaf is silently dropped instead.
	RetryFullPath
	// Abort stops the traversal; the handler hit an unrecoverable error.
	Abort
)

// Handler receives one leaf value, still in its textual form, together
// with the dotted key path leading to it.
type Handler func(value, path string) Result

// Reducer drives a Handler over one JSON document. A Reducer is not
// safe for concurrent use; connections each own one per parse.
type Reducer struct {
	handler       Handler
	coerceSpecial bool

	keys  [MaxDepth]string
	depth int
}

// NewReducer returns a Reducer invoking h per leaf. When coerceSpecial
// is set the avgcount half of filestore.journal_wr_bytes is skipped so
// that counter degrades to a plain derive fed by its sum.
func NewReducer(h Handler, coerceSpecial bool) *Reducer {
	return &Reducer{handler: h, coerceSpecial: coerceSpecial}
}

// frame tracks one open JSON container so string tokens can be told
// apart: inside an object they alternate between keys and values.
type frame struct {
	object    bool
	expectKey bool
}

// Traverse parses data and invokes the handler for every qualifying
// leaf. Numeric leaves are always delivered; string leaves only for a
// depth-1 fsid of UUID shape. Booleans and nulls are ignored.
func (r *Reducer) Traverse(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	r.depth = 0
	var stack []frame

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("json parse failed: %w", err)
		}

		switch t := tok.(type) {
		case json.Delim:
			switch t {
			case '{':
				stack = append(stack, frame{object: true, expectKey: true})
			case '[':
				stack = append(stack, frame{})
			case '}', ']':
				stack = stack[:len(stack)-1]
				r.finishValue(stack)
			}
		case string:
			if n := len(stack); n > 0 && stack[n-1].object && stack[n-1].expectKey {
				if r.depth+1 >= MaxDepth {
					return ErrDepthExceeded
				}
				r.keys[r.depth] = t
				r.depth++
				stack[n-1].expectKey = false
				continue
			}
			r.onString(t)
			r.finishValue(stack)
		case json.Number:
			if res := r.onNumber(t.String()); res == Abort {
				return errors.New("leaf handler aborted")
			}
			r.finishValue(stack)
		default: // bool, nil
			r.finishValue(stack)
		}
	}
}

// finishValue pops the key that led to the value just completed.
func (r *Reducer) finishValue(stack []frame) {
	if n := len(stack); n > 0 && stack[n-1].object {
		if r.depth > 0 {
			r.depth--
		}
		stack[n-1].expectKey = true
	}
}

func (r *Reducer) onNumber(val string) Result {
	var b strings.Builder
	b.WriteString(r.keys[0])

	pair := false
	for i := 1; i < r.depth; i++ {
		if i == r.depth-1 && (r.keys[i] == "avgcount" || r.keys[i] == "sum") {
			// Ceph encodes journal_wr_bytes as a sum/count pair although
			// it behaves like every other bytes counter; drop the
			// avgcount half so only the sum feeds it.
			if r.coerceSpecial && i >= 2 && r.keys[i] == "avgcount" &&
				r.keys[i-1] == "journal_wr_bytes" && r.keys[i-2] == "filestore" {
				return Handled
			}
			// Probably an avgcount/sum pair. If not, the handler asks for
			// the full key below.
			pair = true
			break
		}
		b.WriteByte('.')
		b.WriteString(r.keys[i])
	}

	res := r.handler(val, b.String())
	if res == RetryFullPath && pair {
		b.WriteByte('.')
		b.WriteString(r.keys[r.depth-1])
		res = r.handler(val, b.String())
	}
	if res == RetryFullPath {
		// Nothing in the schema matched either form; drop the leaf.
		return Handled
	}
	return res
}

// onString forwards only a top-level fsid of UUID shape; the engine has
// no generic string-metric support.
func (r *Reducer) onString(val string) {
	if r.depth != 1 || r.keys[0] != "fsid" || len(val) != fsidLen {
		return
	}
	if _, err := uuid.Parse(val); err != nil {
		return
	}
	r.handler(val, r.keys[0])
}
