package improv

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
)

func mustFrame(t *testing.T, typ PacketType, payload []byte) []byte {
	t.Helper()
	frame, err := EncodeFrame(typ, payload)
	if err != nil {
		t.Fatalf("EncodeFrame() error = %v", err)
	}
	return frame
}

func TestDecoder_SingleFrame(t *testing.T) {
	d := NewDecoder()
	frames := d.Feed(mustFrame(t, PacketCurrentState, []byte{byte(StateProvisioning)}))

	want := []Frame{{Type: PacketCurrentState, Payload: []byte{byte(StateProvisioning)}}}
	if !reflect.DeepEqual(frames, want) {
		t.Errorf("Feed() = %+v, want %+v", frames, want)
	}
	if d.Buffered() != 0 {
		t.Errorf("Buffered() = %d, want 0", d.Buffered())
	}
}

func TestDecoder_ChunkBoundaries(t *testing.T) {
	payload, err := EncodeRPCPayload(OpRequestInfo, []string{"ESPHome", "2024.6.0", "ESP32", "kitchen"})
	if err != nil {
		t.Fatal(err)
	}
	var stream []byte
	stream = append(stream, mustFrame(t, PacketCurrentState, []byte{byte(StateReady)})...)
	stream = append(stream, mustFrame(t, PacketRPCResult, payload)...)
	stream = append(stream, mustFrame(t, PacketErrorState, []byte{byte(ErrorNone)})...)

	for _, size := range []int{1, 2, 3, 7, 11, len(stream)} {
		d := NewDecoder()
		var frames []Frame
		for i := 0; i < len(stream); i += size {
			end := i + size
			if end > len(stream) {
				end = len(stream)
			}
			frames = append(frames, d.Feed(stream[i:end])...)
		}

		if len(frames) != 3 {
			t.Fatalf("chunk size %d: got %d frames, want 3", size, len(frames))
		}
		if frames[1].Type != PacketRPCResult || !bytes.Equal(frames[1].Payload, payload) {
			t.Errorf("chunk size %d: frame[1] = %+v", size, frames[1])
		}
		if d.Dropped() != 0 {
			t.Errorf("chunk size %d: Dropped() = %d, want 0", size, d.Dropped())
		}
	}
}

func TestDecoder_WithoutTerminator(t *testing.T) {
	frame := mustFrame(t, PacketCurrentState, []byte{byte(StateReady)})
	frame = frame[:len(frame)-1]

	d := NewDecoder()
	stream := append(append([]byte(nil), frame...), frame...)
	if frames := d.Feed(stream); len(frames) != 2 {
		t.Errorf("Feed() returned %d frames, want 2", len(frames))
	}
}

func TestDecoder_ChecksumMismatchResyncs(t *testing.T) {
	bad := mustFrame(t, PacketCurrentState, []byte{byte(StateReady)})
	bad[len(bad)-2] ^= 0xFF
	good := mustFrame(t, PacketCurrentState, []byte{byte(StateProvisioned)})

	var (
		drops []*FramingError
		lines []string
	)
	d := NewDecoder()
	d.OnDrop = func(err *FramingError) { drops = append(drops, err) }
	d.OnLine = func(line string) { lines = append(lines, line) }

	var stream []byte
	stream = append(stream, "boot\n"...)
	stream = append(stream, bad...)
	stream = append(stream, good...)
	stream = append(stream, "ready\n"...)

	frames := d.Feed(stream)
	if len(frames) != 1 || frames[0].Payload[0] != byte(StateProvisioned) {
		t.Fatalf("Feed() = %+v, want only the PROVISIONED frame", frames)
	}
	if d.Dropped() != 1 || len(drops) != 1 {
		t.Fatalf("Dropped() = %d, drops = %d, want 1", d.Dropped(), len(drops))
	}
	if drops[0].Reason != "checksum mismatch" {
		t.Errorf("drop reason = %q", drops[0].Reason)
	}
	if want := []string{"boot", "ready"}; !reflect.DeepEqual(lines, want) {
		t.Errorf("lines = %q, want %q", lines, want)
	}
}

func TestDecoder_RejectedFrameAcrossChunks(t *testing.T) {
	bad := mustFrame(t, PacketErrorState, []byte{byte(ErrorUnableToConnect)})
	bad[len(bad)-2] ^= 0xFF
	stream := append(append([]byte(nil), bad...), "scan done\n"...)

	var lines []string
	d := NewDecoder()
	d.OnLine = func(line string) { lines = append(lines, line) }

	for i := range stream {
		d.Feed(stream[i : i+1])
	}
	if d.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", d.Dropped())
	}
	if want := []string{"scan done"}; !reflect.DeepEqual(lines, want) {
		t.Errorf("lines = %q, want %q", lines, want)
	}
}

func TestDecoder_BadVersion(t *testing.T) {
	bad := mustFrame(t, PacketCurrentState, []byte{byte(StateReady)})
	bad[len(Preamble)] = 0x02
	good := mustFrame(t, PacketErrorState, []byte{byte(ErrorUnableToConnect)})

	d := NewDecoder()
	frames := d.Feed(append(bad, good...))
	if len(frames) != 1 || frames[0].Type != PacketErrorState {
		t.Fatalf("Feed() = %+v, want the error frame", frames)
	}
	if d.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", d.Dropped())
	}
}

func TestDecoder_EmbeddedPreambleInCorruptFrame(t *testing.T) {
	// A frame whose length byte is corrupted swallows the next frame, so the
	// decoder must rescan from inside the bad frame.
	bad := mustFrame(t, PacketCurrentState, []byte{byte(StateReady)})
	bad[HeaderSize-1] = 0x05
	good := mustFrame(t, PacketCurrentState, []byte{byte(StateProvisioning)})

	d := NewDecoder()
	frames := d.Feed(append(bad, good...))
	if len(frames) != 1 || frames[0].Payload[0] != byte(StateProvisioning) {
		t.Fatalf("Feed() = %+v, want the PROVISIONING frame", frames)
	}
}

func TestDecoder_ConsoleLines(t *testing.T) {
	var lines []string
	d := NewDecoder()
	d.OnLine = func(line string) { lines = append(lines, line) }

	stream := []byte("[I][wifi:123]: booting\r\n\nIMPR")
	if frames := d.Feed(stream); len(frames) != 0 {
		t.Fatalf("Feed() returned %d frames, want 0", len(frames))
	}
	if d.Buffered() != 4 {
		t.Errorf("Buffered() = %d, want 4 (partial preamble)", d.Buffered())
	}

	frame := mustFrame(t, PacketCurrentState, []byte{byte(StateReady)})
	rest := append(append([]byte(nil), frame[4:]...), []byte("scan done\n")...)
	if frames := d.Feed(rest); len(frames) != 1 {
		t.Fatalf("Feed() returned %d frames, want 1", len(frames))
	}

	want := []string{"[I][wifi:123]: booting", "scan done"}
	if !reflect.DeepEqual(lines, want) {
		t.Errorf("lines = %q, want %q", lines, want)
	}
}

func TestDecoder_LongLineSplit(t *testing.T) {
	var lines []string
	d := NewDecoder()
	d.OnLine = func(line string) { lines = append(lines, line) }

	d.Feed(append(bytes.Repeat([]byte{'x'}, maxLineLength+10), '\n'))
	if len(lines) != 2 || len(lines[0]) != maxLineLength || len(lines[1]) != 10 {
		t.Errorf("got %d lines, want a %d byte line and a 10 byte line", len(lines), maxLineLength)
	}
}

func TestDecoder_Reset(t *testing.T) {
	frame := mustFrame(t, PacketCurrentState, []byte{byte(StateReady)})
	d := NewDecoder()
	d.Feed(frame[:5])
	d.Reset()
	if frames := d.Feed(frame[5:]); len(frames) != 0 {
		t.Errorf("Feed() after Reset returned %d frames, want 0", len(frames))
	}
}

func TestPartialPreamble(t *testing.T) {
	tests := []struct {
		buf  string
		want int
	}{
		{"", 0},
		{"abc", 0},
		{"xI", 1},
		{"xxIMP", 3},
		{"IMPRO", 5},
		{"IMPROX", 0},
		{"MPROV", 0},
	}
	for _, tt := range tests {
		if got := partialPreamble([]byte(tt.buf)); got != tt.want {
			t.Errorf("partialPreamble(%q) = %d, want %d", tt.buf, got, tt.want)
		}
	}
}

func TestStateMachine(t *testing.T) {
	m := newStateMachine(nopLogger{})
	events, unsubscribe := m.subscribe(8)
	defer unsubscribe()

	if !m.transition(StateReady) {
		t.Fatal("transition(READY) = false")
	}
	if m.transition(StateReady) {
		t.Error("repeated transition(READY) = true")
	}
	m.reportError(ErrorUnableToConnect)
	m.reportError(ErrorUnableToConnect)
	m.transition(StateDisconnected)
	if m.transition(StateReady) {
		t.Error("transition out of DISCONNECTED = true")
	}

	var kinds []EventKind
	for len(events) > 0 {
		kinds = append(kinds, (<-events).Kind)
	}
	want := []EventKind{EventStateChanged, EventErrorChanged, EventErrorChanged, EventStateChanged}
	if !reflect.DeepEqual(kinds, want) {
		t.Errorf("events = %v, want %v", kinds, want)
	}
	if code, ok := m.lastError(); !ok || code != ErrorUnableToConnect {
		t.Errorf("lastError() = %s, %v", code, ok)
	}
}

func TestStateMachine_DropsForSlowSubscriber(t *testing.T) {
	m := newStateMachine(nopLogger{})
	events, _ := m.subscribe(1)

	m.transition(StateReady)
	m.transition(StateProvisioning)

	ev := <-events
	if ev.State != StateReady {
		t.Errorf("first event state = %s, want READY", ev.State)
	}
	select {
	case ev := <-events:
		t.Errorf("unexpected event %+v", ev)
	default:
	}

	m.close()
	if _, ok := <-events; ok {
		t.Error("channel still open after close")
	}
}

func TestStateMachine_DisconnectDisplacesOldest(t *testing.T) {
	m := newStateMachine(nopLogger{})
	events, _ := m.subscribe(2)

	m.transition(StateReady)
	m.transition(StateProvisioning)
	m.disconnected(errors.New("unplugged"))

	var kinds []EventKind
	for len(events) > 0 {
		kinds = append(kinds, (<-events).Kind)
	}
	want := []EventKind{EventStateChanged, EventDisconnected}
	if !reflect.DeepEqual(kinds, want) {
		t.Errorf("events = %v, want %v", kinds, want)
	}
}
