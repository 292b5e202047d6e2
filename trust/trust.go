// Package trust verifies an assembly's detached PKCS7 (Authenticode-
// style) signature before its metadata is trusted, the same kind of
// strong-name signature directory a PE image's Attribute Certificate
// Table carries.
package trust

import (
	"errors"
	"fmt"

	"go.mozilla.org/pkcs7"

	"github.com/clrcore/jitmeta/metadata"
)

// ErrAssemblyUntrusted reports that an assembly's signature is absent,
// malformed, or does not verify. Unlike a lazy-compilation-dispatch
// failure, this is never fatal to the process: the caller decides
// whether to refuse the assembly outright or merely flag it.
var ErrAssemblyUntrusted = errors.New("trust: assembly signature did not verify")

// SignatureSource locates the detached PKCS7 blob covering an
// assembly's strong-name signature directory. Mapping the owning image
// and finding that directory is a loader concern outside this core's
// scope; this is the one seam Verify needs from it.
type SignatureSource interface {
	StrongNameSignature(asm *metadata.Assembly) ([]byte, bool)
}

// Verify parses and checks the PKCS7 signature covering asm. A missing
// signature, a parse failure, and a verification failure are all
// reported as ErrAssemblyUntrusted — this package draws no distinction
// between "never signed" and "signed but tampered with," since both
// mean the caller should not trust asm's metadata.
func Verify(src SignatureSource, asm *metadata.Assembly) error {
	blob, ok := src.StrongNameSignature(asm)
	if !ok {
		return fmt.Errorf("%w: no strong-name signature directory present", ErrAssemblyUntrusted)
	}

	p, err := pkcs7.Parse(blob)
	if err != nil {
		return fmt.Errorf("%w: parsing PKCS7 signature: %v", ErrAssemblyUntrusted, err)
	}
	if err := p.Verify(); err != nil {
		return fmt.Errorf("%w: %v", ErrAssemblyUntrusted, err)
	}
	return nil
}
