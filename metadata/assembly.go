package metadata

import "fmt"

// Assembly wraps a decoded Image with the identity data resolvers key
// off of: its own name/version (from the Assembly table, if this image
// defines one). It keeps no cache of AssemblyRef rows; those are read
// on demand through AssemblyRefIdentity.
type Assembly struct {
	*Image

	Name    string
	Version Version
}

// Version is a four-part assembly version, ordered the way the Assembly
// and AssemblyRef tables store it.
type Version struct {
	Major, Minor, Build, Revision uint16
}

// String renders a Version the conventional major.minor.build.revision
// way.
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", v.Major, v.Minor, v.Build, v.Revision)
}

// Less reports whether v sorts before o under strict four-part ordering.
func (v Version) Less(o Version) bool {
	if v.Major != o.Major {
		return v.Major < o.Major
	}
	if v.Minor != o.Minor {
		return v.Minor < o.Minor
	}
	if v.Build != o.Build {
		return v.Build < o.Build
	}
	return v.Revision < o.Revision
}

// OpenAssembly decodes an Image and, if it defines an Assembly row,
// attaches its declared name and version.
func OpenAssembly(data []byte, opts *Options) (*Assembly, error) {
	img, err := New(data, opts)
	if err != nil {
		return nil, err
	}
	a := &Assembly{Image: img}
	if img.RowCount(Assembly) == 0 {
		return a, nil // a module without assembly identity (e.g. a netmodule)
	}
	row, err := img.AssemblyRow()
	if err != nil {
		return nil, fmt.Errorf("metadata: reading Assembly row: %w", err)
	}
	name, err := img.String(row.Name)
	if err != nil {
		return nil, fmt.Errorf("metadata: reading assembly name: %w", err)
	}
	a.Name = name
	a.Version = Version{row.MajorVersion, row.MinorVersion, row.BuildNumber, row.RevisionNumber}
	return a, nil
}

// AssemblyRefIdentity is the name+version pair an AssemblyRef row names,
// resolved far enough to drive version-aware binding.
type AssemblyRefIdentity struct {
	Name    string
	Version Version
}

// AssemblyRefIdentity resolves the name and version of AssemblyRef row
// rid without touching its public key or culture — enough identity for
// the binder's version comparison.
func (img *Image) AssemblyRefIdentity(rid uint32) (AssemblyRefIdentity, error) {
	row, err := img.AssemblyRefRow(rid)
	if err != nil {
		return AssemblyRefIdentity{}, err
	}
	name, err := img.String(row.Name)
	if err != nil {
		return AssemblyRefIdentity{}, fmt.Errorf("metadata: reading AssemblyRef[%d] name: %w", rid, err)
	}
	return AssemblyRefIdentity{
		Name:    name,
		Version: Version{row.MajorVersion, row.MinorVersion, row.BuildNumber, row.RevisionNumber},
	}, nil
}
