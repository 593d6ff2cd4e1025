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

package schema

import (
	"fmt"
	"strings"
)

const (
	// MaxLongName bounds the raw key path a daemon may report.
	MaxLongName = 63

	// MaxShortName bounds the mangled counter display name. Downstream
	// RRD storage caps data source names at a 20-byte field.
	MaxShortName = 19

	// compacting stops after this many camel-case tokens.
	maxNameTokens = 16
)

// SplitKey splits a dotted key path into a dataset name and the raw
// counter name. The dataset is the first segment. A trailing "type"
// segment is dropped; with exactly two segments the counter name falls
// back to the dataset name when the second is "type", otherwise it is
// the final segment. With more than two segments the interior segments
// are kept together (dots included) and compacted later.
func SplitKey(key string) (dataset, raw string) {
	first := strings.IndexByte(key, '.')
	if first < 0 {
		return key, key
	}
	dataset = key[:first]
	last := strings.LastIndexByte(key, '.')
	lastSeg := key[last+1:]

	if first == last {
		if strings.HasPrefix(lastSeg, "type") {
			return dataset, dataset
		}
		return dataset, lastSeg
	}
	if strings.HasPrefix(lastSeg, "type") {
		return dataset, key[first+1 : last]
	}
	return dataset, key[first+1:]
}

// CompactName mangles a raw counter name into its fixed-width display
// form: each token delimited by underscore, hyphen, colon or plus is
// capitalized and the tokens are concatenated. A trailing '-' or '+'
// becomes a Minus/Plus marker, and names over budget are truncated with
// the original length appended as a two-digit suffix. Space for every
// suffix is reserved up front so the result never exceeds MaxShortName.
func CompactName(src string) string {
	if src == "" {
		return ""
	}

	minus := strings.HasSuffix(src, "-")
	plus := strings.HasSuffix(src, "+")

	var b strings.Builder
	tokens := 0
	for _, tok := range strings.FieldsFunc(src, func(r rune) bool {
		return r == ':' || r == '_' || r == '-' || r == '+'
	}) {
		if tokens >= maxNameTokens {
			break
		}
		b.WriteString(capitalize(tok))
		tokens++
	}
	name := b.String()

	reserved := 0
	truncated := len(name) > MaxShortName
	if truncated {
		reserved += 2
	}
	if minus {
		reserved += 5
	}
	if plus {
		reserved += 4
	}
	if len(name) > MaxShortName-reserved {
		name = name[:MaxShortName-reserved]
	}
	if minus {
		name += "Minus"
	} else if plus {
		name += "Plus"
	}
	if truncated {
		name += fmt.Sprintf("%02d", len(src)%100)
	}
	return name
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	if c := s[0]; c >= 'a' && c <= 'z' {
		return string(c-'a'+'A') + s[1:]
	}
	return s
}
