package modelsocket

import (
	"context"
	"testing"
)

func TestGenStream_Next(t *testing.T) {
	stream := newGenStream(nil, "cid-1")
	ctx := context.Background()

	go func() {
		stream.handleText(&MSEvent{Event: EventSeqText, Text: "Hello "})
		stream.handleText(&MSEvent{Event: EventSeqText, Text: "world!"})
		stream.handleFinish(&MSEvent{Event: EventSeqGenFinish, CID: "cid-1"})
	}()

	var text string
	for {
		chunk, err := stream.Next(ctx)
		if err != nil {
			t.Fatalf("Next error: %v", err)
		}
		if chunk == nil {
			break
		}
		text += chunk.Text
	}

	if text != "Hello world!" {
		t.Errorf("text = %s, want Hello world!", text)
	}
}

func TestGenStream_Next_ContextCancel(t *testing.T) {
	stream := newGenStream(nil, "cid-1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel immediately

	_, err := stream.Next(ctx)
	if err != context.Canceled {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestGenStream_Text(t *testing.T) {
	stream := newGenStream(nil, "cid-1")
	ctx := context.Background()

	go func() {
		stream.handleText(&MSEvent{Event: EventSeqText, Text: "Hello "})
		stream.handleText(&MSEvent{Event: EventSeqText, Text: "world!"})
		stream.handleFinish(&MSEvent{Event: EventSeqGenFinish, CID: "cid-1"})
	}()

	text, err := stream.Text(ctx)
	if err != nil {
		t.Fatalf("Text error: %v", err)
	}

	if text != "Hello world!" {
		t.Errorf("text = %s, want Hello world!", text)
	}
}

func TestGenStream_HiddenChunks(t *testing.T) {
	stream := newGenStream(nil, "cid-1")
	ctx := context.Background()

	go func() {
		stream.handleText(&MSEvent{Event: EventSeqText, Text: "Hel"})
		stream.handleText(&MSEvent{Event: EventSeqText, Text: "<think>", Hidden: true})
		stream.handleText(&MSEvent{Event: EventSeqText, Text: "lo"})
		stream.handleFinish(&MSEvent{Event: EventSeqGenFinish, CID: "cid-1"})
	}()

	// The raw stream carries all three chunks, and only the middle one
	// is marked hidden.
	var raw []*GenChunk
	var visible []string
	for chunk, err := range stream.Chunks(ctx) {
		if err != nil {
			t.Fatalf("Chunks error: %v", err)
		}
		raw = append(raw, chunk)
		if !chunk.Hidden {
			visible = append(visible, chunk.Text)
		}
	}

	if len(raw) != 3 {
		t.Fatalf("len(raw) = %d, want 3", len(raw))
	}
	if len(visible) != 2 || visible[0] != "Hel" || visible[1] != "lo" {
		t.Errorf("visible = %v, want [Hel lo]", visible)
	}
}

func TestGenStream_TextStream_DropsHidden(t *testing.T) {
	stream := newGenStream(nil, "cid-1")
	ctx := context.Background()

	go func() {
		stream.handleText(&MSEvent{Event: EventSeqText, Text: "Hel"})
		stream.handleText(&MSEvent{Event: EventSeqText, Text: "<think>", Hidden: true})
		stream.handleText(&MSEvent{Event: EventSeqText, Text: "lo"})
		stream.handleFinish(&MSEvent{Event: EventSeqGenFinish, CID: "cid-1"})
	}()

	var got []string
	for text, err := range stream.TextStream(ctx) {
		if err != nil {
			t.Fatalf("TextStream error: %v", err)
		}
		got = append(got, text)
	}

	if len(got) != 2 || got[0] != "Hel" || got[1] != "lo" {
		t.Errorf("got = %v, want [Hel lo]", got)
	}
}

func TestGenStream_TextAndTokens(t *testing.T) {
	stream := newGenStream(nil, "cid-1")
	ctx := context.Background()

	go func() {
		stream.handleText(&MSEvent{Event: EventSeqText, Text: "A", Tokens: []int{1}})
		stream.handleText(&MSEvent{Event: EventSeqText, Text: "B", Tokens: []int{2, 3}})
		stream.handleFinish(&MSEvent{Event: EventSeqGenFinish, CID: "cid-1"})
	}()

	text, tokens, err := stream.TextAndTokens(ctx)
	if err != nil {
		t.Fatalf("TextAndTokens error: %v", err)
	}

	if text != "AB" {
		t.Errorf("text = %s, want AB", text)
	}
	if len(tokens) != 3 {
		t.Errorf("len(tokens) = %d, want 3", len(tokens))
	}
}

func TestGenStream_TextAndTokens_SkipsHidden(t *testing.T) {
	stream := newGenStream(nil, "cid-1")
	ctx := context.Background()

	go func() {
		stream.handleText(&MSEvent{Event: EventSeqText, Text: "A", Tokens: []int{1}})
		stream.handleText(&MSEvent{Event: EventSeqText, Text: "shh", Tokens: []int{9, 9}, Hidden: true})
		stream.handleText(&MSEvent{Event: EventSeqText, Text: "B", Tokens: []int{2}})
		stream.handleFinish(&MSEvent{Event: EventSeqGenFinish, CID: "cid-1"})
	}()

	text, tokens, err := stream.TextAndTokens(ctx)
	if err != nil {
		t.Fatalf("TextAndTokens error: %v", err)
	}

	if text != "AB" {
		t.Errorf("text = %s, want AB", text)
	}
	if len(tokens) != 2 || tokens[0] != 1 || tokens[1] != 2 {
		t.Errorf("tokens = %v, want [1 2]", tokens)
	}
}

func TestGenStream_Chunks_Iterator(t *testing.T) {
	stream := newGenStream(nil, "cid-1")
	ctx := context.Background()

	go func() {
		stream.handleText(&MSEvent{Event: EventSeqText, Text: "Hello "})
		stream.handleText(&MSEvent{Event: EventSeqText, Text: "world!"})
		stream.handleFinish(&MSEvent{Event: EventSeqGenFinish, CID: "cid-1"})
	}()

	var text string
	for chunk, err := range stream.Chunks(ctx) {
		if err != nil {
			t.Fatalf("Chunks error: %v", err)
		}
		text += chunk.Text
	}

	if text != "Hello world!" {
		t.Errorf("text = %s, want Hello world!", text)
	}
}

func TestGenStream_TokenCounts(t *testing.T) {
	stream := newGenStream(nil, "cid-1")
	ctx := context.Background()

	go func() {
		stream.handleText(&MSEvent{Event: EventSeqText, Text: "test"})
		stream.handleFinish(&MSEvent{
			Event:        EventSeqGenFinish,
			CID:          "cid-1",
			InputTokens:  10,
			OutputTokens: 5,
		})
	}()

	_, err := stream.Text(ctx)
	if err != nil {
		t.Fatalf("Text error: %v", err)
	}

	if stream.InputTokens() != 10 {
		t.Errorf("InputTokens = %d, want 10", stream.InputTokens())
	}
	if stream.OutputTokens() != 5 {
		t.Errorf("OutputTokens = %d, want 5", stream.OutputTokens())
	}
}

func TestGenStream_Close(t *testing.T) {
	stream := newGenStream(nil, "cid-1")
	ctx := context.Background()

	go func() {
		stream.handleText(&MSEvent{Event: EventSeqText, Text: "test"})
		stream.handleClose()
	}()

	_, err := stream.Text(ctx)
	if err != ErrSeqClosed {
		t.Errorf("err = %v, want ErrSeqClosed", err)
	}
}

func TestGenStream_DoubleClose(t *testing.T) {
	stream := newGenStream(nil, "cid-1")

	// Should not panic
	stream.handleClose()
	stream.handleClose()
	stream.handleFinish(&MSEvent{Event: EventSeqGenFinish})
}
