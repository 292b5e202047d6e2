package trust

import (
	"errors"
	"testing"

	"github.com/clrcore/jitmeta/metadata"
)

type fakeSource struct {
	blob []byte
	ok   bool
}

func (f fakeSource) StrongNameSignature(*metadata.Assembly) ([]byte, bool) { return f.blob, f.ok }

func TestVerifyNoSignaturePresent(t *testing.T) {
	err := Verify(fakeSource{ok: false}, &metadata.Assembly{})
	if !errors.Is(err, ErrAssemblyUntrusted) {
		t.Fatalf("got %v, want ErrAssemblyUntrusted", err)
	}
}

func TestVerifyMalformedSignature(t *testing.T) {
	err := Verify(fakeSource{blob: []byte("not a real pkcs7 blob"), ok: true}, &metadata.Assembly{})
	if !errors.Is(err, ErrAssemblyUntrusted) {
		t.Fatalf("got %v, want ErrAssemblyUntrusted wrapping a parse failure", err)
	}
}
