package phonetic

import (
	"context"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/phonemix/pkg/engine"
	"github.com/MrWong99/phonemix/pkg/media"
)

// DecodeManifest reads one corpus manifest from r. A manifest is the YAML
// form of [media.Video]; durations use Go syntax ("1.25s", "340ms").
//
// When the manifest omits its url, url is used. The returned video is
// linked (see [media.Link]).
func DecodeManifest(r io.Reader, url string) (*media.Video, error) {
	var v media.Video
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("phonetic: decode manifest for %q: %w", url, err)
	}
	if v.URL == "" {
		v.URL = url
	}
	if v.URL != url {
		return nil, fmt.Errorf("phonetic: manifest for %q declares url %q", url, v.URL)
	}
	media.Link(&v)
	return &v, nil
}

// GetVideos implements [engine.Engine]. Every url must have been registered
// with [WithManifest]; the manifests are read fresh on each call.
func (e *Engine) GetVideos(ctx context.Context, urls []string) ([]*media.Video, error) {
	out := make([]*media.Video, 0, len(urls))
	for _, url := range urls {
		if err := engine.Checkpoint(ctx); err != nil {
			return nil, err
		}
		path, ok := e.manifests[url]
		if !ok {
			return nil, fmt.Errorf("phonetic: no manifest registered for %q", url)
		}
		v, err := loadManifest(path, url)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func loadManifest(path, url string) (*media.Video, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("phonetic: open manifest %q: %w", path, err)
	}
	defer f.Close()
	return DecodeManifest(f, url)
}
