package fetch

import (
	"fmt"

	"github.com/quillpm/quill/internal/locator"
)

// Data resolves a concrete locator to its package contents, addressed one
// of PackageData's three ways. It is the materialization-time counterpart
// to Resolve/Manifest: those answer "what does this package depend on and
// what's its manifest", Data answers "where do its bytes actually live".
func (f *Fetcher) Data(l locator.Locator) (PackageData, error) {
	switch l.Reference.Kind {
	case locator.KindFolder, locator.KindLink, locator.KindPortal, locator.KindWorkspaceIdent:
		if f.ContextDir == nil {
			return PackageData{}, fmt.Errorf("fetch: no context directory resolver configured for %s", l.ToHumanString())
		}
		dir, err := f.ContextDir(&l)
		if err != nil {
			return PackageData{}, err
		}
		return PackageData{Kind: StorageLocal, Path: dir}, nil
	case locator.KindPatch:
		if ok := f.Archive.Exists(l); !ok.Local {
			if f.DryRun {
				return PackageData{Kind: StorageMissingZip, Locator: l}, nil
			}
			return PackageData{}, fmt.Errorf("fetch: patched archive for %s not yet materialized", l.ToHumanString())
		}
		checksum, err := f.Archive.Checksum(l)
		if err != nil {
			return PackageData{}, err
		}
		return PackageData{Kind: StorageZip, Locator: l, Checksum: checksum}, nil
	default:
		if ok := f.Archive.Exists(l); ok.Local {
			checksum, err := f.Archive.Checksum(l)
			if err != nil {
				return PackageData{}, err
			}
			return PackageData{Kind: StorageZip, Locator: l, Checksum: checksum}, nil
		}
		if f.DryRun {
			return PackageData{Kind: StorageMissingZip, Locator: l}, nil
		}
		return PackageData{}, fmt.Errorf("fetch: %s not yet fetched", l.ToHumanString())
	}
}
