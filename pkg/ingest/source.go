package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/mchmarny/metarank/pkg/matrix"
	"github.com/mchmarny/metarank/pkg/meta"
	"github.com/mchmarny/metarank/pkg/net"
)

// Open returns a reader over src, a local path or an http(s) URL.
func Open(ctx context.Context, src string) (io.ReadCloser, error) {
	if net.IsRemote(src) {
		b, err := net.Fetch(ctx, src)
		if err != nil {
			return nil, fmt.Errorf("error fetching %s: %w", src, err)
		}
		return io.NopCloser(bytes.NewReader(b)), nil
	}

	f, err := os.Open(filepath.Clean(src))
	if err != nil {
		return nil, fmt.Errorf("error opening %s: %w", src, err)
	}
	return f, nil
}

// Archive saves a copy of a remote src under dir and returns the local path.
// Local sources are returned unchanged.
func Archive(ctx context.Context, src, dir string) (string, error) {
	if !net.IsRemote(src) {
		return src, nil
	}

	u, err := url.Parse(src)
	if err != nil {
		return "", fmt.Errorf("error parsing source URL %s: %w", src, err)
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		name = "source"
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("error creating archive dir %s: %w", dir, err)
	}

	dst := filepath.Join(dir, fmt.Sprintf("%d-%s", time.Now().UTC().UnixNano(), name))
	if err := net.Download(ctx, src, dst); err != nil {
		return "", fmt.Errorf("error archiving %s: %w", src, err)
	}
	return dst, nil
}

// LoadMatchups reads the flat matchup table from src.
func LoadMatchups(ctx context.Context, src string) ([]matrix.Record, error) {
	rc, err := Open(ctx, src)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	rows, err := ReadMatchups(rc)
	if err != nil {
		return nil, fmt.Errorf("error reading matchups from %s: %w", src, err)
	}
	return rows, nil
}

// LoadMetaShares reads declared meta shares from src; a .json source is
// decoded as a JSON array, anything else as CSV.
func LoadMetaShares(ctx context.Context, src string) ([]meta.Share, error) {
	isJSON := strings.EqualFold(filepath.Ext(strings.SplitN(src, "?", 2)[0]), ".json")

	if isJSON && net.IsRemote(src) {
		var list []meta.Share
		if err := net.GetJSON(ctx, src, &list); err != nil {
			return nil, fmt.Errorf("error fetching meta shares from %s: %w", src, err)
		}
		return validShares(list)
	}

	rc, err := Open(ctx, src)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var list []meta.Share
	if isJSON {
		list, err = DecodeMetaShares(rc)
	} else {
		list, err = ReadMetaShares(rc)
	}
	if err != nil {
		return nil, fmt.Errorf("error reading meta shares from %s: %w", src, err)
	}
	return list, nil
}

// LoadRoster reads the deck axis from src.
func LoadRoster(ctx context.Context, src string) ([]string, error) {
	rc, err := Open(ctx, src)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	axis, err := ReadRoster(rc)
	if err != nil {
		return nil, fmt.Errorf("error reading roster from %s: %w", src, err)
	}
	return axis, nil
}

// LoadMatrix reads a square deck matrix from src.
func LoadMatrix(ctx context.Context, src string) (*matrix.Matrix, error) {
	rc, err := Open(ctx, src)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	m, err := ReadMatrix(rc)
	if err != nil {
		return nil, fmt.Errorf("error reading matrix from %s: %w", src, err)
	}
	return m, nil
}
