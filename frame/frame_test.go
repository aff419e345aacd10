package frame

import (
	"bytes"
	"errors"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	body := []byte("morphemic section stream")
	data := Encode(WrapperMagic, CurrentVersion, FeatureEncrypted|FeatureSourceMap, body)

	f, rest, err := Decode(data, WrapperMagic)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(rest) != 0 {
		t.Fatalf("unexpected %d trailing bytes", len(rest))
	}
	if f.Version != CurrentVersion {
		t.Errorf("version %s, want %s", f.Version, CurrentVersion)
	}
	if !bytes.Equal(f.Body, body) {
		t.Errorf("body %q, want %q", f.Body, body)
	}
	if !f.HasFeature(FeatureEncrypted) || !f.HasFeature(FeatureSourceMap) {
		t.Error("feature bits lost in round trip")
	}
	if f.HasFeature(FeatureMetadataAuthenticated) {
		t.Error("unset feature bit reported as set")
	}
	if f.UnknownFeatureBits() != 0 {
		t.Errorf("unknown feature bits 0x%08x, want none", f.UnknownFeatureBits())
	}
}

func TestFrameEmptyBody(t *testing.T) {
	data := Encode(PayloadMagic, CurrentVersion, 0, nil)
	f, _, err := Decode(data, PayloadMagic)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(f.Body) != 0 {
		t.Fatalf("body %d bytes, want 0", len(f.Body))
	}
}

func TestFrameRejections(t *testing.T) {
	body := []byte("payload")
	good := Encode(WrapperMagic, CurrentVersion, 0, body)

	t.Run("too small", func(t *testing.T) {
		if _, _, err := Decode(good[:10], WrapperMagic); !errors.Is(err, ErrTooSmall) {
			t.Fatalf("got %v, want ErrTooSmall", err)
		}
	})
	t.Run("wrong magic", func(t *testing.T) {
		if _, _, err := Decode(good, PayloadMagic); !errors.Is(err, ErrBadMagic) {
			t.Fatalf("got %v, want ErrBadMagic", err)
		}
	})
	t.Run("truncated", func(t *testing.T) {
		if _, _, err := Decode(good[:len(good)-2], WrapperMagic); !errors.Is(err, ErrTruncated) {
			t.Fatalf("got %v, want ErrTruncated", err)
		}
	})
	t.Run("single bit flip in body", func(t *testing.T) {
		for i := 16; i < len(good)-4; i++ {
			flipped := append([]byte(nil), good...)
			flipped[i] ^= 0x01
			if _, _, err := Decode(flipped, WrapperMagic); !errors.Is(err, ErrCRCMismatch) {
				t.Fatalf("flip at %d: got %v, want ErrCRCMismatch", i, err)
			}
		}
	})
	t.Run("crc flip", func(t *testing.T) {
		flipped := append([]byte(nil), good...)
		flipped[len(flipped)-1] ^= 0x80
		if _, _, err := Decode(flipped, WrapperMagic); !errors.Is(err, ErrCRCMismatch) {
			t.Fatalf("got %v, want ErrCRCMismatch", err)
		}
	})
	t.Run("length past end", func(t *testing.T) {
		over := append([]byte(nil), good...)
		over[15] = 0xFF
		if _, _, err := Decode(over, WrapperMagic); !errors.Is(err, ErrTruncated) {
			t.Fatalf("got %v, want ErrTruncated", err)
		}
	})
}

func TestFrameRemainder(t *testing.T) {
	first := Encode(WrapperMagic, CurrentVersion, 0, []byte("one"))
	second := Encode(WrapperMagic, CurrentVersion, 0, []byte("two"))
	f, rest, err := Decode(append(first, second...), WrapperMagic)
	if err != nil {
		t.Fatal(err)
	}
	if string(f.Body) != "one" {
		t.Fatalf("first body %q", f.Body)
	}
	g, rest, err := Decode(rest, WrapperMagic)
	if err != nil {
		t.Fatal(err)
	}
	if string(g.Body) != "two" || len(rest) != 0 {
		t.Fatalf("second body %q, %d trailing bytes", g.Body, len(rest))
	}
}

func TestSectionRoundTrip(t *testing.T) {
	sections := []Section{
		{ID: SectionStreamHeader, Flags: 0x0001, Body: []byte{1, 2, 3}},
		{ID: SectionTokens, Body: []byte("tokens")},
		{ID: SectionMetadata, Body: nil},
		{ID: SectionChannelIdentifiers, Body: []byte("ids")},
		{ID: ExtensionBase + 7, Body: []byte("vendor blob")},
	}
	decoded, err := DecodeSections(EncodeSections(sections))
	if err != nil {
		t.Fatalf("DecodeSections: %v", err)
	}
	if len(decoded) != len(sections) {
		t.Fatalf("got %d sections, want %d", len(decoded), len(sections))
	}
	for i, want := range sections {
		got := decoded[i]
		if got.ID != want.ID || got.Flags != want.Flags || !bytes.Equal(got.Body, want.Body) {
			t.Errorf("section %d: got %+v, want %+v", i, got, want)
		}
	}
	if !decoded[4].Extension() {
		t.Error("extension-range section not flagged as extension")
	}
	if decoded[0].Extension() {
		t.Error("core section flagged as extension")
	}
}

func TestSectionRejections(t *testing.T) {
	t.Run("descending ids", func(t *testing.T) {
		data := EncodeSections([]Section{
			{ID: SectionTokens, Body: []byte("a")},
			{ID: SectionStreamHeader, Body: []byte("b")},
		})
		if _, err := DecodeSections(data); !errors.Is(err, ErrSectionOrder) {
			t.Fatalf("got %v, want ErrSectionOrder", err)
		}
	})
	t.Run("duplicate ids", func(t *testing.T) {
		data := EncodeSections([]Section{
			{ID: SectionTokens, Body: []byte("a")},
			{ID: SectionTokens, Body: []byte("b")},
		})
		if _, err := DecodeSections(data); !errors.Is(err, ErrSectionOrder) {
			t.Fatalf("got %v, want ErrSectionOrder", err)
		}
	})
	t.Run("unknown flag bits", func(t *testing.T) {
		data := EncodeSections([]Section{{ID: SectionTokens, Flags: 0x4000, Body: []byte("a")}})
		if _, err := DecodeSections(data); !errors.Is(err, ErrSectionFlags) {
			t.Fatalf("got %v, want ErrSectionFlags", err)
		}
	})
	t.Run("corrupted body", func(t *testing.T) {
		data := EncodeSections([]Section{{ID: SectionTokens, Body: []byte("payload")}})
		data[len(data)-1] ^= 0xFF
		if _, err := DecodeSections(data); !errors.Is(err, ErrSectionCRC) {
			t.Fatalf("got %v, want ErrSectionCRC", err)
		}
	})
	t.Run("truncated header", func(t *testing.T) {
		data := EncodeSections([]Section{{ID: SectionTokens, Body: []byte("payload")}})
		if _, err := DecodeSections(data[:6]); !errors.Is(err, ErrSectionTruncated) {
			t.Fatalf("got %v, want ErrSectionTruncated", err)
		}
	})
	t.Run("truncated body", func(t *testing.T) {
		data := EncodeSections([]Section{{ID: SectionTokens, Body: []byte("payload")}})
		if _, err := DecodeSections(data[:len(data)-3]); !errors.Is(err, ErrSectionTruncated) {
			t.Fatalf("got %v, want ErrSectionTruncated", err)
		}
	})
}

func TestVersionGate(t *testing.T) {
	if err := CheckVersion(CurrentVersion); err != nil {
		t.Fatalf("current version rejected: %v", err)
	}
	if err := CheckVersion(Version{Major: CurrentVersion.Major, Minor: CurrentVersion.Minor, Patch: 999}); err != nil {
		t.Fatalf("newer patch rejected: %v", err)
	}
	err := CheckVersion(Version{Major: CurrentVersion.Major + 1})
	if !errors.Is(err, ErrMajorMismatch) {
		t.Fatalf("got %v, want ErrMajorMismatch", err)
	}
	err = CheckVersion(Version{Major: CurrentVersion.Major, Minor: MaxKnownMinor + 1})
	if !errors.Is(err, ErrMinorTooNew) {
		t.Fatalf("got %v, want ErrMinorTooNew", err)
	}
}
