package publish

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/minio/minio-go/v7"

	"sam2-eval/internal/results"
)

type fakePutter struct {
	calls []string
	fail  string
}

func (f *fakePutter) FPutObject(_ context.Context, bucket, key, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if key == f.fail {
		return minio.UploadInfo{}, errors.New("denied")
	}
	f.calls = append(f.calls, bucket+"/"+key+" "+opts.ContentType)
	st, err := os.Stat(filePath)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	return minio.UploadInfo{Bucket: bucket, Key: key, Size: st.Size()}, nil
}

func TestObjectKeyJoinsNonEmptySegments(t *testing.T) {
	cases := map[string][]string{
		"eval/SeCVOS/plot.png": {"/eval/", "SeCVOS", "plot.png"},
		"SeCVOS/plot.png":      {"", "SeCVOS", " plot.png "},
		"a/b":                  {"a", "", "b"},
	}
	for want, parts := range cases {
		if got := ObjectKey(parts[0], parts[1:]...); got != want {
			t.Fatalf("ObjectKey(%q) = %q, want %q", parts, got, want)
		}
	}
}

func TestContentType(t *testing.T) {
	if ContentType("x.PNG") != "image/png" || ContentType("r.csv") != "text/csv" || ContentType("blob") != "application/octet-stream" {
		t.Fatalf("unexpected content types")
	}
}

func TestPlanAndUploadArtifacts(t *testing.T) {
	root := t.TempDir()
	plot := filepath.Join(root, "jfmean_vs_memstride_SeCVOS.png")
	if err := os.WriteFile(plot, []byte("png"), 0o644); err != nil {
		t.Fatal(err)
	}
	withCSV := filepath.Join(root, "SeCVOS_sam2.1_hiera_large_memstride1")
	withoutCSV := filepath.Join(root, "SeCVOS_sam2.1_hiera_large_memstride2")
	for _, d := range []string{withCSV, withoutCSV} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(withCSV, results.SummaryFileName), []byte("sequence,J&F\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	runs := []results.Run{{Model: "large", MemStride: 1, Dir: withCSV}, {Model: "large", MemStride: 2, Dir: withoutCSV}}
	artifacts, err := PlanArtifacts(plot, runs, "evals", "SeCVOS")
	if err != nil {
		t.Fatal(err)
	}
	if len(artifacts) != 2 {
		t.Fatalf("expected 2 artifacts, got %+v", artifacts)
	}
	if artifacts[1].Key != "evals/SeCVOS/SeCVOS_sam2.1_hiera_large_memstride1/results_overall.csv" {
		t.Fatalf("unexpected key %q", artifacts[1].Key)
	}

	putter := &fakePutter{}
	up := NewUploaderWithClient(putter, "bench", nil)
	done, err := up.UploadAll(context.Background(), artifacts)
	if err != nil {
		t.Fatal(err)
	}
	if len(done) != 2 || done[0].Size != 3 {
		t.Fatalf("unexpected uploads %+v", done)
	}
	if putter.calls[0] != "bench/evals/SeCVOS/jfmean_vs_memstride_SeCVOS.png image/png" {
		t.Fatalf("unexpected call %q", putter.calls[0])
	}

	putter = &fakePutter{fail: artifacts[1].Key}
	done, err = NewUploaderWithClient(putter, "bench", nil).UploadAll(context.Background(), artifacts)
	if err == nil || len(done) != 1 {
		t.Fatalf("expected partial upload with error, got %d uploads, err=%v", len(done), err)
	}
}

func TestPlanArtifactsMissingPlot(t *testing.T) {
	if _, err := PlanArtifacts(filepath.Join(t.TempDir(), "nope.png"), nil, "", "SeCVOS"); err == nil {
		t.Fatalf("expected missing plot error")
	}
}

func TestOptionsFromEnv(t *testing.T) {
	t.Setenv(EndpointEnv, "s3.local:9000")
	t.Setenv(AccessKeyEnv, "ak")
	t.Setenv(SecretKeyEnv, "sk")
	t.Setenv(UseSSLEnv, "TRUE")
	got := OptionsFromEnv(Options{Bucket: "b"})
	if got.Endpoint != "s3.local:9000" || got.AccessKey != "ak" || got.SecretKey != "sk" || !got.UseSSL || got.Bucket != "b" {
		t.Fatalf("unexpected options %+v", got)
	}
	if got := OptionsFromEnv(Options{Endpoint: "other:1"}); got.Endpoint != "other:1" {
		t.Fatalf("explicit endpoint should win, got %q", got.Endpoint)
	}
}

func TestNewUploaderRequiresCredentials(t *testing.T) {
	_, err := NewUploader(context.Background(), Options{Endpoint: "localhost:9000", Bucket: "b"}, nil)
	if !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("expected ErrMissingCredentials, got %v", err)
	}
}
