package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/spf13/afero"
)

func TestParseRef(t *testing.T) {
	tests := []struct {
		uri        string
		allowNoKey bool
		want       Ref
		shouldErr  bool
	}{
		{"s3://discs/mygame.iso", false, Ref{Bucket: "discs", Key: "mygame.iso"}, false},
		{"s3://discs/2003/pc/mygame.iso", false, Ref{Bucket: "discs", Key: "2003/pc/mygame.iso"}, false},
		{"s3://discs/", true, Ref{Bucket: "discs"}, false},
		{"s3://discs", true, Ref{Bucket: "discs"}, false},
		{"s3://discs/", false, Ref{}, true},
		{"s3:///mygame.iso", false, Ref{}, true},
		{"/Users/me/mygame.iso", false, Ref{}, true},
		{"https://discs/mygame.iso", false, Ref{}, true},
	}

	for _, tt := range tests {
		got, err := ParseRef(tt.uri, tt.allowNoKey)
		if tt.shouldErr {
			if err == nil {
				t.Errorf("expected error for %q", tt.uri)
			}
			continue
		}
		if err != nil {
			t.Errorf("unexpected error for %q: %v", tt.uri, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseRef(%q) = %+v, want %+v", tt.uri, got, tt.want)
		}
	}
}

func TestRefString(t *testing.T) {
	r := Ref{Bucket: "discs", Key: "pc/mygame.iso"}
	if got := r.String(); got != "s3://discs/pc/mygame.iso" {
		t.Errorf("String() = %q", got)
	}
}

func TestIsRemote(t *testing.T) {
	if !IsRemote("s3://discs/mygame.iso") {
		t.Error("expected s3 reference to be remote")
	}
	if IsRemote("/tmp/mygame.iso") {
		t.Error("expected local path not to be remote")
	}
}

func TestLocalName(t *testing.T) {
	if got := LocalName("2003/pc/mygame.iso"); got != "mygame.iso" {
		t.Errorf("LocalName = %q", got)
	}
}

type fakeAPI struct {
	objects map[string]string
	pages   [][]string
	getErr  error
}

func (f *fakeAPI) GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	body, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func (f *fakeAPI) HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, fmt.Errorf("operation error S3: HeadObject: %w", &types.NotFound{})
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeAPI) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	page := 0
	if in.ContinuationToken != nil {
		fmt.Sscanf(*in.ContinuationToken, "%d", &page)
	}
	out := &s3.ListObjectsV2Output{}
	for _, key := range f.pages[page] {
		out.Contents = append(out.Contents, types.Object{
			Key:  aws.String(key),
			Size: aws.Int64(int64(len(f.objects[key]))),
		})
	}
	if page+1 < len(f.pages) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(fmt.Sprint(page + 1))
	}
	return out, nil
}

func TestDownload(t *testing.T) {
	fs := afero.NewMemMapFs()
	c := newClient(&fakeAPI{objects: map[string]string{"pc/game.iso": "disc bytes"}}, "discs", fs)

	res, err := c.Download(context.Background(), "pc/game.iso", "/work/game.iso")
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}

	sum := sha256.Sum256([]byte("disc bytes"))
	if res.SHA256 != hex.EncodeToString(sum[:]) {
		t.Errorf("SHA256 = %s", res.SHA256)
	}
	if res.Size != int64(len("disc bytes")) {
		t.Errorf("Size = %d", res.Size)
	}
	data, err := afero.ReadFile(fs, "/work/game.iso")
	if err != nil || string(data) != "disc bytes" {
		t.Errorf("local file = %q, %v", data, err)
	}
}

func TestDownloadFailureLeavesNoFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	c := newClient(&fakeAPI{getErr: fmt.Errorf("connection reset")}, "discs", fs)

	if _, err := c.Download(context.Background(), "pc/game.iso", "/work/game.iso"); err == nil {
		t.Fatal("expected error")
	}
	if ok, _ := afero.Exists(fs, "/work/game.iso"); ok {
		t.Error("partial download left behind")
	}
}

func TestExists(t *testing.T) {
	c := newClient(&fakeAPI{objects: map[string]string{"game.iso": "x"}}, "discs", afero.NewMemMapFs())

	ok, err := c.Exists(context.Background(), "game.iso")
	if err != nil || !ok {
		t.Errorf("Exists(game.iso) = %v, %v", ok, err)
	}
	ok, err = c.Exists(context.Background(), "missing.iso")
	if err != nil || ok {
		t.Errorf("Exists(missing.iso) = %v, %v", ok, err)
	}
}

func TestListFollowsPages(t *testing.T) {
	api := &fakeAPI{
		objects: map[string]string{"a.iso": "1234", "b.dmg": "12", "c.txt": ""},
		pages:   [][]string{{"a.iso", "b.dmg"}, {"c.txt"}},
	}
	c := newClient(api, "discs", afero.NewMemMapFs())

	objects, err := c.List(context.Background(), "")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(objects) != 3 {
		t.Fatalf("got %d objects, want 3", len(objects))
	}
	if objects[0] != (Object{Key: "a.iso", Size: 4}) {
		t.Errorf("objects[0] = %+v", objects[0])
	}
	if objects[2].Key != "c.txt" {
		t.Errorf("objects[2] = %+v", objects[2])
	}
}
