// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ingestion

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
)

const (
	DefaultWindowWords  = 200
	DefaultOverlapWords = 40
)

// splitter breaks page text into windows measured in words.
type splitter struct {
	rc textsplitter.RecursiveCharacter
}

func newSplitter(window, overlap int) (*splitter, error) {
	if window < 1 {
		return nil, fmt.Errorf("window must be positive, got %d", window)
	}
	if overlap < 0 || overlap >= window {
		return nil, fmt.Errorf("overlap must be in [0, %d), got %d", window, overlap)
	}
	return &splitter{
		rc: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(window),
			textsplitter.WithChunkOverlap(overlap),
			textsplitter.WithLenFunc(wordCount),
		),
	}, nil
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}

// split returns the non-blank windows of text.
func (s *splitter) split(text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	parts, err := s.rc.SplitText(text)
	if err != nil {
		return nil, err
	}
	windows := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			windows = append(windows, p)
		}
	}
	return windows, nil
}
