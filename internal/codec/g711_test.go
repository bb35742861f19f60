package codec

import "testing"

func TestEncodeDecodeZero(t *testing.T) {
	if got := EncodeSample(0); got != Silence {
		t.Fatalf("EncodeSample(0) = %#x, want %#x", got, Silence)
	}
	if got := DecodeSample(Silence); got != 0 {
		t.Fatalf("DecodeSample(Silence) = %d, want 0", got)
	}
}

func TestRoundTripIsClose(t *testing.T) {
	// Companding is lossy; a round trip must stay within the quantization
	// step for the sample's segment (at most ~1/16 of magnitude plus bias).
	for _, s := range []int16{0, 1, -1, 100, -100, 1000, -1000, 8000, -8000, 30000, -30000, 32635, -32635} {
		back := DecodeSample(EncodeSample(s))
		diff := int32(s) - int32(back)
		if diff < 0 {
			diff = -diff
		}
		limit := int32(s) / 16
		if limit < 0 {
			limit = -limit
		}
		limit += muLawBias
		if diff > limit {
			t.Errorf("round trip %d -> %d, off by %d (limit %d)", s, back, diff, limit)
		}
	}
}

func TestClipping(t *testing.T) {
	if EncodeSample(32767) != EncodeSample(muLawClip) {
		t.Error("samples above the clip level should encode identically")
	}
	if EncodeSample(-32768) != EncodeSample(-muLawClip) {
		t.Error("samples below the clip level should encode identically")
	}
}

func TestMuLawToPCM16Layout(t *testing.T) {
	mu := []byte{Silence, Silence, Silence}
	pcm := MuLawToPCM16(mu)
	if len(pcm) != 6 {
		t.Fatalf("pcm length = %d, want 6", len(pcm))
	}
	for i, b := range pcm {
		if b != 0 {
			t.Fatalf("pcm[%d] = %#x, want 0", i, b)
		}
	}
}

func TestPCM16ToMuLawIgnoresTrailingByte(t *testing.T) {
	pcm := []byte{0, 0, 0, 0, 0x12}
	mu := PCM16ToMuLaw(pcm)
	if len(mu) != 2 {
		t.Fatalf("mu length = %d, want 2", len(mu))
	}
	if mu[0] != Silence || mu[1] != Silence {
		t.Fatalf("mu = %v, want all silence", mu)
	}
}

func TestChunk(t *testing.T) {
	b := make([]byte, FrameBytes*2+10)
	chunks := Chunk(b, FrameBytes)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	if len(chunks[0]) != FrameBytes || len(chunks[1]) != FrameBytes {
		t.Errorf("full chunks should be %d bytes", FrameBytes)
	}
	if len(chunks[2]) != 10 {
		t.Errorf("tail chunk = %d bytes, want 10", len(chunks[2]))
	}
	if Chunk(nil, FrameBytes) != nil {
		t.Error("chunking empty input should return nil")
	}
	if Chunk(b, 0) != nil {
		t.Error("chunking with size 0 should return nil")
	}
}
