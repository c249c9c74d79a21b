// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package stream carries workflow progress to a single remote observer.
//
// Every stage emits tagged events into a Queue. The queue is ordered,
// unbounded and consumed by exactly one reader, and it always ends with
// exactly one terminal event (end or failed) after which nothing else is
// delivered.
package stream

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind discriminates progress events.
type Kind string

const (
	KindTextChunk   Kind = "text-chunk"
	KindToolCall    Kind = "tool-call"
	KindToolResult  Kind = "tool-result"
	KindStageChange Kind = "stage-change"
	KindOutputRef   Kind = "output-ref"
	KindError       Kind = "error"

	// Terminal kinds. Exactly one of them closes every stream.
	KindEnd    Kind = "end"
	KindFailed Kind = "failed"
)

// Payload prefixes understood by clients.
const (
	// OutputRefPrefix marks a payload that is the path of a persisted artifact.
	OutputRefPrefix = "__OUTPUT_FILE__"
	// ErrorPrefix marks an error payload ("__ERROR__<Type>: <message>").
	ErrorPrefix = "__ERROR__"
)

// Event is one progress update.
type Event struct {
	Kind     Kind      `json:"kind"`
	Payload  string    `json:"payload"`
	StageTag string    `json:"stage_tag,omitempty"`
	Seq      int64     `json:"seq"`
	Time     time.Time `json:"time"`
}

// Terminal reports whether the event closes the stream.
func (e Event) Terminal() bool {
	return e.Kind == KindEnd || e.Kind == KindFailed
}

// Text builds a text-chunk event.
func Text(tag, text string) Event {
	return Event{Kind: KindTextChunk, Payload: text, StageTag: tag}
}

// Stage builds a stage-change event.
func Stage(tag, message string) Event {
	return Event{Kind: KindStageChange, Payload: message, StageTag: tag}
}

// ToolCall builds a tool-call event.
func ToolCall(tag, name, args string) Event {
	return Event{
		Kind:     KindToolCall,
		Payload:  fmt.Sprintf("Tool Call:\n %s\nArguments:\n %s", name, args),
		StageTag: tag,
	}
}

// ToolResult builds a tool-result event.
func ToolResult(tag, result string) Event {
	return Event{Kind: KindToolResult, Payload: "Results:\n" + result, StageTag: tag}
}

// OutputRef builds an output-ref event pointing at a persisted artifact.
func OutputRef(tag, path string) Event {
	return Event{Kind: KindOutputRef, Payload: OutputRefPrefix + path, StageTag: tag}
}

// ParseOutputRef extracts the path from an output-ref payload.
func ParseOutputRef(payload string) (string, bool) {
	if !strings.HasPrefix(payload, OutputRefPrefix) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(payload, OutputRefPrefix)), true
}

// ErrorEvent builds an error event whose payload names the error type.
func ErrorEvent(tag string, err error) Event {
	return Event{Kind: KindError, Payload: ErrorPayload(err), StageTag: tag}
}

// ErrorPayload renders "__ERROR__<Type>: <message>". Type is the first
// error in the chain that is not a plain fmt.Errorf wrapper; untyped errors
// report as "Error".
func ErrorPayload(err error) string {
	if err == nil {
		return ErrorPrefix + "Error: unknown error"
	}
	return fmt.Sprintf("%s%s: %s", ErrorPrefix, errorTypeName(err), err.Error())
}

func errorTypeName(err error) string {
	typeName := fmt.Sprintf("%T", err)
	for typeName == "*fmt.wrapError" || typeName == "*fmt.wrapErrors" {
		next := errors.Unwrap(err)
		if next == nil {
			return "Error"
		}
		err = next
		typeName = fmt.Sprintf("%T", err)
	}
	if typeName == "*errors.errorString" || typeName == "*errors.joinError" {
		return "Error"
	}
	typeName = strings.TrimPrefix(typeName, "*")
	if i := strings.LastIndex(typeName, "."); i >= 0 {
		typeName = typeName[i+1:]
	}
	return typeName
}

// Sink receives progress events. Emit must not block.
type Sink interface {
	Emit(e Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(e Event)

// Emit calls f.
func (f SinkFunc) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

type taggedSink struct {
	next Sink
	tag  string
}

func (t taggedSink) Emit(e Event) {
	e.StageTag = t.tag
	t.next.Emit(e)
}

// Tagged returns a sink that stamps every event with tag, so concurrent
// resolvers stay distinguishable at the consumer.
func Tagged(s Sink, tag string) Sink {
	if s == nil {
		s = Discard
	}
	return taggedSink{next: s, tag: tag}
}
