package mil

import (
	"fmt"

	"golang.org/x/mod/semver"

	"github.com/clrcore/jitmeta/metadata"
)

// resolveAssemblyRef resolves an AssemblyRef row against whatever
// assembly by that name is already loaded (or loads it fresh), applying
// this runtime's version-unification policy: the loaded assembly must be
// at least as new as the one referenced, never an older, incompatible
// one silently swapped in underneath a caller expecting newer members.
func (r *Resolver) resolveAssemblyRef(from *metadata.Assembly, rid uint32) (*metadata.Assembly, error) {
	id, err := from.AssemblyRefIdentity(rid)
	if err != nil {
		return nil, fmt.Errorf("mil: reading AssemblyRef[%d]: %w", rid, err)
	}
	return r.resolveByIdentity(id)
}

func (r *Resolver) resolveByIdentity(id metadata.AssemblyRefIdentity) (*metadata.Assembly, error) {
	r.mu.Lock()
	loaded, ok := r.loaded[id.Name]
	r.mu.Unlock()
	if ok {
		if versionSatisfies(loaded.Version, id.Version) {
			return loaded, nil
		}
		return nil, fmt.Errorf("mil: assembly %q already loaded at version %s, which does not satisfy requested %s",
			id.Name, loaded.Version, id.Version)
	}

	if r.Loader == nil {
		return nil, fmt.Errorf("mil: no assembly loader configured to resolve %q", id.Name)
	}
	asm, err := r.Loader.LoadAssembly(id.Name)
	if err != nil {
		return nil, fmt.Errorf("mil: loading %q: %w", id.Name, err)
	}
	if !versionSatisfies(asm.Version, id.Version) {
		return nil, fmt.Errorf("mil: loaded %q version %s does not satisfy requested %s",
			id.Name, asm.Version, id.Version)
	}

	r.mu.Lock()
	r.loaded[id.Name] = asm
	r.mu.Unlock()
	return asm, nil
}

// versionSatisfies reports whether `have` is semver-greater-or-equal to
// `want`, comparing the major.minor.build triple with x/mod/semver and
// breaking ties on the fourth (revision) component semver has no slot
// for.
func versionSatisfies(have, want metadata.Version) bool {
	cmp := semver.Compare(toSemver(have), toSemver(want))
	if cmp != 0 {
		return cmp > 0
	}
	return have.Revision >= want.Revision
}

func toSemver(v metadata.Version) string {
	return fmt.Sprintf("v%d.%d.%d", v.Major, v.Minor, v.Build)
}
