package stages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"autovideo/internal/fileutil"
	"autovideo/internal/logging"
	"autovideo/internal/services"
	"autovideo/internal/stage"
	"autovideo/internal/textutil"
)

// ManifestName is the file media_assembly writes into the output directory.
const ManifestName = "manifest.json"

// Manifest binds the generated title and segments to their media files.
type Manifest struct {
	RunID     string            `json:"run_id"`
	Title     string            `json:"title"`
	Slug      string            `json:"slug"`
	Premise   string            `json:"premise,omitempty"`
	Words     int               `json:"words"`
	Segments  []ManifestSegment `json:"segments"`
	CreatedAt time.Time         `json:"created_at"`
}

// ManifestSegment is one narrated, illustrated unit.
type ManifestSegment struct {
	Index       int    `json:"index"`
	Text        string `json:"text"`
	Audio       string `json:"audio,omitempty"`
	AudioSHA256 string `json:"audio_sha256,omitempty"`
	Image       string `json:"image,omitempty"`
	ImageSHA256 string `json:"image_sha256,omitempty"`
}

// AssemblyResult locates the written manifest.
type AssemblyResult struct {
	Manifest string `json:"manifest"`
	SHA256   string `json:"sha256"`
	Segments int    `json:"segments"`
}

// CleanupResult reports what cleanup removed.
type CleanupResult struct {
	Removed []string `json:"removed"`
}

// AssembleMedia copies segment artifacts into the output directory with
// checksum verification and writes the manifest.
func (s *Set) AssembleMedia(ctx context.Context, in stage.Input, report stage.Reporter) (any, error) {
	var segments SegmentsResult
	if err := in.Results.Decode(ScriptPostprocessing, &segments); err != nil {
		return nil, err
	}
	var title TitleResult
	if err := in.Results.Decode(TitleGeneration, &title); err != nil {
		return nil, err
	}
	var premise PremiseResult
	if in.Results.Has(PremiseGeneration) {
		if err := in.Results.Decode(PremiseGeneration, &premise); err != nil {
			return nil, err
		}
	}
	audio, err := artifactsBySegment(in, SpeechSynthesis)
	if err != nil {
		return nil, err
	}
	images, err := artifactsBySegment(in, ImageGeneration)
	if err != nil {
		return nil, err
	}

	manifest := Manifest{
		RunID:     in.RunID,
		Title:     title.Title,
		Slug:      textutil.Slug(title.Title),
		Premise:   premise.Premise,
		Words:     segments.Words,
		Segments:  make([]ManifestSegment, 0, len(segments.Segments)),
		CreatedAt: time.Now().UTC(),
	}
	total := len(segments.Segments)
	for i, seg := range segments.Segments {
		if err := in.Pause(ctx); err != nil {
			return nil, err
		}
		entry := ManifestSegment{Index: seg.Index, Text: seg.Text}
		if art, ok := audio[seg.Index]; ok {
			entry.Audio, entry.AudioSHA256, err = publish(in, "audio", art)
			if err != nil {
				return nil, err
			}
		}
		if art, ok := images[seg.Index]; ok {
			entry.Image, entry.ImageSHA256, err = publish(in, "images", art)
			if err != nil {
				return nil, err
			}
		}
		manifest.Segments = append(manifest.Segments, entry)
		report.Progress(stage.Fraction(i+1, total+1), fmt.Sprintf("segment %d/%d staged", i+1, total))
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, in.Stage, "encode manifest", "manifest could not be encoded", err)
	}
	path := outputPath(in, ManifestName)
	if err := fileutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return nil, services.Wrap(services.ErrTransient, in.Stage, "write manifest", path, err)
	}
	sum, err := fileutil.FileSHA256(path)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, in.Stage, "hash manifest", path, err)
	}
	report.Progress(100, "manifest written")
	stageLogger(in).Info("media manifest written",
		logging.String(logging.FieldEventType, "manifest_written"),
		logging.String("path", path),
		logging.Int("segments", len(manifest.Segments)))
	return AssemblyResult{Manifest: path, SHA256: sum, Segments: len(manifest.Segments)}, nil
}

func artifactsBySegment(in stage.Input, name string) (map[int]Artifact, error) {
	out := make(map[int]Artifact)
	if !in.Results.Has(name) {
		return out, nil
	}
	var result ArtifactsResult
	if err := in.Results.Decode(name, &result); err != nil {
		return nil, err
	}
	for _, art := range result.Artifacts {
		out[art.Segment] = art
	}
	return out, nil
}

// publish copies an artifact into output/<dir>/ and returns the path relative
// to the output directory with its digest. An already published copy with a
// matching digest is reused.
func publish(in stage.Input, dir string, art Artifact) (string, string, error) {
	rel := filepath.Join(dir, filepath.Base(art.Path))
	dst := outputPath(in, rel)
	if _, err := os.Stat(art.Path); errors.Is(err, os.ErrNotExist) {
		if sum, hashErr := fileutil.FileSHA256(dst); hashErr == nil {
			return rel, sum, nil
		}
		return "", "", services.Wrap(services.ErrValidation, in.Stage, "publish",
			fmt.Sprintf("artifact %s is missing", art.Path), err)
	}
	sum, err := fileutil.CopyFileVerified(art.Path, dst)
	if err != nil {
		return "", "", services.Wrap(services.ErrTransient, in.Stage, "publish", fmt.Sprintf("copy %s", art.Path), err)
	}
	return rel, sum, nil
}

// Cleanup removes the run's tmp directory. The output directory is kept.
func (s *Set) Cleanup(_ context.Context, in stage.Input, report stage.Reporter) (any, error) {
	dir := tmpPath(in)
	result := CleanupResult{Removed: []string{}}
	if _, err := os.Stat(dir); err == nil {
		if err := os.RemoveAll(dir); err != nil {
			return nil, services.Wrap(services.ErrTransient, in.Stage, "cleanup", dir, err)
		}
		result.Removed = append(result.Removed, dir)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, services.Wrap(services.ErrTransient, in.Stage, "cleanup", dir, err)
	}
	report.Progress(100, "temporary files removed")
	return result, nil
}
