package attachment

import (
	"context"
	"io"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"github.com/dagmesh/convocore/capability"
)

type stubFiles struct {
	existing map[string]bool
	failName string
}

func newStubFiles() *stubFiles {
	return &stubFiles{existing: make(map[string]bool)}
}

func (f *stubFiles) Exists(ctx context.Context, name string) (bool, error) {
	return f.existing[name], nil
}

func (f *stubFiles) Upload(ctx context.Context, name string, r io.Reader) (<-chan capability.UploadEvent, error) {
	out := make(chan capability.UploadEvent, 4)
	go func() {
		defer close(out)

		if name == f.failName {
			out <- capability.UploadEvent{Kind: capability.UploadFailed, Name: name, Err: io.ErrUnexpectedEOF}
			return
		}

		data, err := io.ReadAll(r)
		if err != nil {
			out <- capability.UploadEvent{Kind: capability.UploadFailed, Name: name, Err: err}
			return
		}

		out <- capability.UploadEvent{Kind: capability.UploadProgress, Name: name, BytesWritten: int64(len(data)), TotalBytes: int64(len(data))}

		sum, _ := multihash.Sum(data, multihash.SHA2_256, -1)
		id := cid.NewCidV1(cid.Raw, sum)
		out <- capability.UploadEvent{Kind: capability.UploadComplete, Name: name, BytesWritten: int64(len(data)), TotalBytes: int64(len(data)), ContentCID: id}
	}()
	return out, nil
}
