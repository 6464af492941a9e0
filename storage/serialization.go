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

package storage

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/groundwork/core"
)

// Record layout versions. Bump when a field is added.
const (
	chunkRecordVersion = 1
	jobRecordVersion   = 1
)

// serializer is the method set shared by the mus-go primitive serializers.
type serializer[T any] interface {
	Marshal(v T, bs []byte) int
	Unmarshal(bs []byte) (T, int, error)
	Size(v T) int
}

// put appends v to bs using s.
func put[T any](bs []byte, s serializer[T], v T) []byte {
	n := s.Size(v)
	bs = slices.Grow(bs, n)
	m := s.Marshal(v, bs[len(bs):len(bs)+n])
	return bs[:len(bs)+m]
}

// reader consumes fields in order and keeps the first error.
type reader struct {
	bs  []byte
	err error
}

func get[T any](r *reader, s serializer[T]) T {
	var zero T
	if r.err != nil {
		return zero
	}
	if len(r.bs) == 0 {
		r.err = ErrTruncatedData
		return zero
	}
	v, n, err := s.Unmarshal(r.bs)
	if err != nil {
		r.err = fmt.Errorf("%w: %w", ErrSerializationFailed, err)
		return zero
	}
	r.bs = r.bs[n:]
	return v
}

func putTime(bs []byte, t time.Time) []byte {
	bs = put(bs, ord.Bool, !t.IsZero())
	if t.IsZero() {
		return bs
	}
	return put(bs, varint.Int64, t.UnixNano())
}

func getTime(r *reader) time.Time {
	if !get(r, ord.Bool) {
		return time.Time{}
	}
	return time.Unix(0, get(r, varint.Int64)).UTC()
}

func putVector(bs []byte, v []float32) []byte {
	bs = put(bs, varint.Int, len(v))
	for _, f := range v {
		bs = put(bs, varint.Uint32, math.Float32bits(f))
	}
	return bs
}

func getVector(r *reader) []float32 {
	n := get(r, varint.Int)
	if r.err != nil || n == 0 {
		return nil
	}
	if n < 0 || n > len(r.bs) {
		r.err = ErrTruncatedData
		return nil
	}
	v := make([]float32, n)
	for i := range v {
		v[i] = math.Float32frombits(get(r, varint.Uint32))
	}
	return v
}

func putStrings(bs []byte, ss []string) []byte {
	bs = put(bs, varint.Int, len(ss))
	for _, s := range ss {
		bs = put(bs, ord.String, s)
	}
	return bs
}

func getStrings(r *reader) []string {
	n := get(r, varint.Int)
	if r.err != nil || n == 0 {
		return nil
	}
	if n < 0 || n > len(r.bs) {
		r.err = ErrTruncatedData
		return nil
	}
	ss := make([]string, n)
	for i := range ss {
		ss[i] = get(r, ord.String)
	}
	return ss
}

func checkVersion(r *reader, want int) {
	if v := get(r, varint.Int); r.err == nil && v != want {
		r.err = fmt.Errorf("%w: unsupported record version %d", ErrSerializationFailed, v)
	}
}

// MarshalID serializes an ID to bytes.
func MarshalID(id core.ID) []byte {
	return put(nil, varint.Uint64, uint64(id))
}

// UnmarshalID deserializes an ID from bytes.
func UnmarshalID(data []byte) (core.ID, error) {
	r := &reader{bs: data}
	id := get(r, varint.Uint64)
	return core.ID(id), r.err
}

func appendChunk(bs []byte, c *core.Chunk) []byte {
	bs = put(bs, varint.Uint64, uint64(c.Id))
	bs = put(bs, ord.String, c.FileID)
	bs = put(bs, ord.String, c.ConversationID)
	bs = put(bs, varint.Int, c.Ordinal)
	bs = put(bs, ord.String, c.Content)
	bs = putVector(bs, c.Vector)
	bs = put(bs, ord.String, c.Metadata.FileName)
	bs = put(bs, ord.String, c.Metadata.FileType)
	bs = put(bs, varint.Int, c.Metadata.Page)
	bs = putTime(bs, c.Metadata.UploadedAt)
	return putTime(bs, c.InsertedAt)
}

func readChunk(r *reader) *core.Chunk {
	c := &core.Chunk{}
	c.Id = core.ID(get(r, varint.Uint64))
	c.FileID = get(r, ord.String)
	c.ConversationID = get(r, ord.String)
	c.Ordinal = get(r, varint.Int)
	c.Content = get(r, ord.String)
	c.Vector = getVector(r)
	c.Metadata.FileName = get(r, ord.String)
	c.Metadata.FileType = get(r, ord.String)
	c.Metadata.Page = get(r, varint.Int)
	c.Metadata.UploadedAt = getTime(r)
	c.InsertedAt = getTime(r)
	return c
}

// MarshalChunk serializes a Chunk to bytes.
func MarshalChunk(chunk *core.Chunk) []byte {
	bs := put(nil, varint.Int, chunkRecordVersion)
	return appendChunk(bs, chunk)
}

// UnmarshalChunk deserializes a Chunk from bytes.
func UnmarshalChunk(data []byte) (*core.Chunk, error) {
	r := &reader{bs: data}
	checkVersion(r, chunkRecordVersion)
	c := readChunk(r)
	if r.err != nil {
		return nil, r.err
	}
	return c, nil
}

func appendRequest(bs []byte, req *core.SearchRequest) []byte {
	bs = put(bs, ord.String, req.Query)
	bs = put(bs, varint.Int, req.TopK)
	bs = put(bs, ord.String, string(req.SearchMode))
	bs = put(bs, ord.String, string(req.ReasoningMode))
	sources := make([]string, len(req.PriorityOrder))
	for i, s := range req.PriorityOrder {
		sources[i] = string(s)
	}
	bs = putStrings(bs, sources)
	bs = put(bs, varint.Int, len(req.History))
	for _, turn := range req.History {
		bs = put(bs, ord.String, turn.Query)
		bs = put(bs, ord.String, turn.Answer)
	}
	return put(bs, ord.String, req.ConversationID)
}

func readRequest(r *reader) core.SearchRequest {
	var req core.SearchRequest
	req.Query = get(r, ord.String)
	req.TopK = get(r, varint.Int)
	req.SearchMode = core.SearchMode(get(r, ord.String))
	req.ReasoningMode = core.ReasoningMode(get(r, ord.String))
	for _, s := range getStrings(r) {
		req.PriorityOrder = append(req.PriorityOrder, core.KnowledgeSource(s))
	}
	n := get(r, varint.Int)
	if n < 0 || n > len(r.bs) {
		r.err = ErrTruncatedData
	}
	for i := 0; i < n && r.err == nil; i++ {
		req.History = append(req.History, core.ConversationTurn{
			Query:  get(r, ord.String),
			Answer: get(r, ord.String),
		})
	}
	req.ConversationID = get(r, ord.String)
	return req
}

func appendResult(bs []byte, res *core.AnswerResult) []byte {
	bs = put(bs, ord.Bool, res != nil)
	if res == nil {
		return bs
	}
	bs = put(bs, ord.String, string(res.Mode))
	bs = put(bs, ord.String, res.Answer)
	bs = put(bs, ord.String, res.ExtractedInfo)
	bs = put(bs, ord.String, res.OnlineSearchResponse)
	bs = put(bs, varint.Int, len(res.Hits))
	for i := range res.Hits {
		hit := &res.Hits[i]
		bs = put(bs, ord.Bool, hit.Chunk != nil)
		if hit.Chunk != nil {
			bs = appendChunk(bs, hit.Chunk)
		}
		bs = put(bs, varint.Uint64, math.Float64bits(hit.Score))
		bs = put(bs, ord.String, string(hit.Method))
		bs = put(bs, varint.Int, hit.Rank)
		bs = put(bs, varint.Int, hit.DenseRank)
		bs = put(bs, varint.Int, hit.KeywordRank)
	}
	bs = put(bs, varint.Int, res.TotalResults)
	bs = put(bs, varint.Int64, int64(res.ProcessingTime))
	bs = put(bs, ord.String, string(res.UseCase))
	bs = put(bs, ord.Bool, res.AutoSelection != nil)
	if res.AutoSelection != nil {
		bs = put(bs, ord.String, string(res.AutoSelection.Mode))
		bs = put(bs, ord.String, res.AutoSelection.Rationale)
	}
	bs = put(bs, ord.Bool, res.Partial)
	bs = put(bs, ord.String, res.FailedStep)
	return put(bs, ord.String, res.Error)
}

func readResult(r *reader) *core.AnswerResult {
	if !get(r, ord.Bool) {
		return nil
	}
	res := &core.AnswerResult{}
	res.Mode = core.SearchMode(get(r, ord.String))
	res.Answer = get(r, ord.String)
	res.ExtractedInfo = get(r, ord.String)
	res.OnlineSearchResponse = get(r, ord.String)
	n := get(r, varint.Int)
	if n < 0 || n > len(r.bs) {
		r.err = ErrTruncatedData
	}
	for i := 0; i < n && r.err == nil; i++ {
		var hit core.RetrievalHit
		if get(r, ord.Bool) {
			hit.Chunk = readChunk(r)
		}
		hit.Score = math.Float64frombits(get(r, varint.Uint64))
		hit.Method = core.RetrievalMethod(get(r, ord.String))
		hit.Rank = get(r, varint.Int)
		hit.DenseRank = get(r, varint.Int)
		hit.KeywordRank = get(r, varint.Int)
		res.Hits = append(res.Hits, hit)
	}
	res.TotalResults = get(r, varint.Int)
	res.ProcessingTime = time.Duration(get(r, varint.Int64))
	res.UseCase = core.UseCase(get(r, ord.String))
	if get(r, ord.Bool) {
		res.AutoSelection = &core.AutoSelection{
			Mode:      core.SearchMode(get(r, ord.String)),
			Rationale: get(r, ord.String),
		}
	}
	res.Partial = get(r, ord.Bool)
	res.FailedStep = get(r, ord.String)
	res.Error = get(r, ord.String)
	return res
}

// MarshalJob serializes a SearchJob to bytes.
func MarshalJob(job *core.SearchJob) []byte {
	bs := put(nil, varint.Int, jobRecordVersion)
	bs = put(bs, ord.String, job.ID)
	bs = appendRequest(bs, &job.Request)
	bs = put(bs, ord.String, string(job.Status))
	bs = put(bs, varint.Int, job.Progress)
	bs = put(bs, ord.String, job.CurrentStep)
	bs = put(bs, ord.String, job.ErrorMessage)
	bs = appendResult(bs, job.Result)
	bs = putTime(bs, job.CreatedAt)
	return putTime(bs, job.UpdatedAt)
}

// UnmarshalJob deserializes a SearchJob from bytes.
func UnmarshalJob(data []byte) (*core.SearchJob, error) {
	r := &reader{bs: data}
	checkVersion(r, jobRecordVersion)
	job := &core.SearchJob{}
	job.ID = get(r, ord.String)
	job.Request = readRequest(r)
	job.Status = core.JobStatus(get(r, ord.String))
	job.Progress = get(r, varint.Int)
	job.CurrentStep = get(r, ord.String)
	job.ErrorMessage = get(r, ord.String)
	job.Result = readResult(r)
	job.CreatedAt = getTime(r)
	job.UpdatedAt = getTime(r)
	if r.err != nil {
		return nil, r.err
	}
	return job, nil
}
