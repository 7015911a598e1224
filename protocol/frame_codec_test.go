package protocol_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/aahoughton/cowboy/api"
	"github.com/aahoughton/cowboy/protocol"
)

// pair returns a client codec writing into wire and a server codec reading
// from it.
func pair(opts ...protocol.CodecOption) (client, server *protocol.Codec, wire *bytes.Buffer) {
	wire = &bytes.Buffer{}
	client = protocol.NewCodec(&bytes.Buffer{}, wire, protocol.AsClient())
	server = protocol.NewCodec(wire, &bytes.Buffer{}, opts...)
	return
}

func TestEncodeDecodeFrame(t *testing.T) {
	client, server, _ := pair()
	for _, f := range []api.Frame{
		api.TextFrame("hello"),
		api.BinaryFrame(bytes.Repeat([]byte{7}, 300)),
		api.BinaryFrame(bytes.Repeat([]byte{1}, 70000)),
		api.PingFrame([]byte("p")),
		api.CloseFrame(api.CloseGoingAway, "bye"),
	} {
		if err := client.WriteFrame(f); err != nil {
			t.Fatalf("write %v: %v", f, err)
		}
		got, err := server.ReadFrame()
		if err != nil {
			t.Fatalf("read %v: %v", f, err)
		}
		if got.Op != f.Op || !bytes.Equal(got.Payload, f.Payload) || got.Code != f.Code || got.Reason != f.Reason {
			t.Errorf("got %v, want %v", got, f)
		}
	}
}

func TestServerWritesUnmasked(t *testing.T) {
	var out bytes.Buffer
	c := protocol.NewCodec(&bytes.Buffer{}, &out)
	if err := c.WriteFrame(api.TextFrame("hi")); err != nil {
		t.Fatal(err)
	}
	want := []byte{0x81, 0x02, 'h', 'i'}
	if !bytes.Equal(out.Bytes(), want) {
		t.Errorf("wire = % x, want % x", out.Bytes(), want)
	}
}

func TestRejectsUnmaskedClientFrame(t *testing.T) {
	in := bytes.NewBuffer([]byte{0x81, 0x02, 'h', 'i'})
	c := protocol.NewCodec(in, &bytes.Buffer{})
	_, err := c.ReadFrame()
	if !errors.Is(err, api.ErrProtocolViolation) {
		t.Fatalf("err = %v, want protocol violation", err)
	}
	if code := protocol.CloseCodeFor(err); code != api.CloseProtocolError {
		t.Errorf("close code = %d", code)
	}
}

func TestReassemblesFragments(t *testing.T) {
	// Hand-built masked frames with a zero key: text "he" (no FIN), ping,
	// continuation "llo" (FIN).
	raw := []byte{
		0x01, 0x82, 0, 0, 0, 0, 'h', 'e',
		0x89, 0x80, 0, 0, 0, 0,
		0x80, 0x83, 0, 0, 0, 0, 'l', 'l', 'o',
	}
	c := protocol.NewCodec(bytes.NewBuffer(raw), &bytes.Buffer{})
	f, err := c.ReadFrame()
	if err != nil || f.Op != api.OpPing {
		t.Fatalf("first frame = %v, %v; want ping", f, err)
	}
	f, err = c.ReadFrame()
	if err != nil {
		t.Fatal(err)
	}
	if f.Op != api.OpText || string(f.Payload) != "hello" {
		t.Errorf("got %v %q", f, f.Payload)
	}
}

func TestMaxPayload(t *testing.T) {
	client, server, _ := pair(protocol.WithMaxPayload(16))
	if err := client.WriteFrame(api.BinaryFrame(make([]byte, 17))); err != nil {
		t.Fatal(err)
	}
	_, err := server.ReadFrame()
	if !errors.Is(err, api.ErrFrameTooLarge) {
		t.Fatalf("err = %v", err)
	}
	if protocol.CloseCodeFor(err) != api.CloseMessageTooBig {
		t.Error("expected 1009")
	}
}

func TestInvalidUTF8(t *testing.T) {
	client, server, _ := pair()
	client.WriteFrame(api.Frame{Op: api.OpText, Payload: []byte{0xff, 0xfe}})
	_, err := server.ReadFrame()
	if !errors.Is(err, api.ErrInvalidUTF8) {
		t.Fatalf("err = %v", err)
	}
	if protocol.CloseCodeFor(err) != api.CloseInvalidPayload {
		t.Error("expected 1007")
	}
}

func TestCloseFrameValidation(t *testing.T) {
	client, server, _ := pair()
	client.WriteFrame(api.CloseFrame(1005, ""))
	if _, err := server.ReadFrame(); !errors.Is(err, api.ErrProtocolViolation) {
		t.Errorf("1005 on the wire accepted: %v", err)
	}

	client, server, _ = pair()
	client.WriteFrame(api.CloseFrame(0, ""))
	f, err := server.ReadFrame()
	if err != nil || f.Op != api.OpClose || f.Code != 0 {
		t.Errorf("empty close = %v, %v", f, err)
	}
}

func TestControlPayloadLimit(t *testing.T) {
	c := protocol.NewCodec(&bytes.Buffer{}, &bytes.Buffer{})
	err := c.WriteFrame(api.CloseFrame(api.CloseNormal, strings.Repeat("x", 124)))
	if !errors.Is(err, api.ErrProtocolViolation) {
		t.Fatalf("err = %v", err)
	}
}

func TestCompactReleasesBuffer(t *testing.T) {
	var out bytes.Buffer
	c := protocol.NewCodec(&bytes.Buffer{}, &out)
	c.WriteFrame(api.TextFrame("a"))
	c.Compact()
	c.Compact()
	if err := c.WriteFrame(api.TextFrame("b")); err != nil {
		t.Fatal(err)
	}
	if out.Len() != 6 {
		t.Errorf("wrote %d bytes", out.Len())
	}
}
