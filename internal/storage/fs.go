package storage

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"syscall"

	"github.com/keithlinneman/bucketedge/internal/xerrors"
)

// FSBucket serves objects from an fs.FS. Keys map directly to paths within
// the FS, so directories and keys that are not valid fs paths read as misses.
type FSBucket struct {
	fsys fs.FS
}

func NewFSBucket(fsys fs.FS) *FSBucket { return &FSBucket{fsys: fsys} }

// NewDirBucket serves the directory tree rooted at dir.
func NewDirBucket(dir string) (*FSBucket, error) {
	st, err := os.Stat(dir)
	if err != nil {
		return nil, xerrors.Wrapf(err, "stat bucket dir %s", dir)
	}
	if !st.IsDir() {
		return nil, xerrors.Newf("bucket dir %s is not a directory", dir)
	}
	return NewFSBucket(os.DirFS(dir)), nil
}

func (b *FSBucket) Get(ctx context.Context, key string) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !fs.ValidPath(key) || key == "." {
		return nil, ErrNotFound
	}
	f, err := b.fsys.Open(key)
	if err != nil {
		return nil, mapFSErr(err, "open", key)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, mapFSErr(err, "stat", key)
	}
	if st.IsDir() {
		f.Close()
		return nil, ErrNotFound
	}
	return &Object{ObjectInfo: infoFromStat(key, st), Body: f}, nil
}

func (b *FSBucket) Head(ctx context.Context, key string) (ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, err
	}
	if !fs.ValidPath(key) || key == "." {
		return ObjectInfo{}, ErrNotFound
	}
	st, err := fs.Stat(b.fsys, key)
	if err != nil {
		return ObjectInfo{}, mapFSErr(err, "stat", key)
	}
	if st.IsDir() {
		return ObjectInfo{}, ErrNotFound
	}
	return infoFromStat(key, st), nil
}

func (b *FSBucket) List(ctx context.Context) ([]ObjectInfo, error) {
	var out []ObjectInfo
	err := fs.WalkDir(b.fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		st, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, infoFromStat(p, st))
		return nil
	})
	if err != nil {
		return out, xerrors.Wrap(err, "walk bucket")
	}
	return out, nil
}

func infoFromStat(key string, st fs.FileInfo) ObjectInfo {
	return ObjectInfo{
		Key:          key,
		Size:         st.Size(),
		ETag:         fmt.Sprintf(`"%x-%x"`, st.ModTime().UnixNano(), st.Size()),
		LastModified: st.ModTime(),
	}
}

// mapFSErr turns lookups an object store would call a miss into ErrNotFound.
// A key below an existing file ("a.css/x") fails with ENOTDIR on a real
// directory.
func mapFSErr(err error, op, key string) error {
	if xerrors.Is(err, fs.ErrNotExist) || xerrors.Is(err, syscall.ENOTDIR) {
		return ErrNotFound
	}
	// PathError already names the op and key
	var pe *fs.PathError
	if xerrors.As(err, &pe) {
		return xerrors.Wrap(err, "fs bucket")
	}
	return xerrors.Wrapf(err, "%s %s", op, key)
}
