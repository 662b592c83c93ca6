package stages

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"autovideo/internal/fileutil"
	"autovideo/internal/logging"
	"autovideo/internal/providers"
	"autovideo/internal/services"
	"autovideo/internal/stage"
)

// Artifact is one generated media file.
type Artifact struct {
	Segment  int    `json:"segment"`
	Path     string `json:"path"`
	MIMEType string `json:"mime_type,omitempty"`
	Bytes    int64  `json:"bytes"`
	Provider string `json:"provider,omitempty"`
	Reused   bool   `json:"reused,omitempty"`
}

// ArtifactsResult lists the files produced by a media stage.
type ArtifactsResult struct {
	Artifacts []Artifact `json:"artifacts"`
}

type mediaKind struct {
	dir        string
	op         providers.Operation
	defaultExt string
	build      func(in stage.Input, title string, seg Segment) providers.Request
}

var (
	speechKind = mediaKind{
		dir:        "audio",
		op:         providers.OpSpeech,
		defaultExt: ".mp3",
		build: func(in stage.Input, _ string, seg Segment) providers.Request {
			return providers.Request{
				Operation: providers.OpSpeech,
				Prompt:    seg.Text,
				Voice:     in.Setting("voice", ""),
			}
		},
	}
	imageKind = mediaKind{
		dir:        "images",
		op:         providers.OpImage,
		defaultExt: ".png",
		build: func(in stage.Input, title string, seg Segment) providers.Request {
			return providers.Request{
				Operation: providers.OpImage,
				Prompt: fmt.Sprintf("%s style illustration for a video titled %q. Scene: %s",
					in.Setting("style", "Cinematic"), title, seg.Text),
				Size: in.Setting("size", "1024x1024"),
			}
		},
	}
)

// SynthesizeSpeech narrates every segment.
func (s *Set) SynthesizeSpeech(ctx context.Context, in stage.Input, report stage.Reporter) (any, error) {
	return s.perSegment(ctx, in, report, speechKind)
}

// GenerateImages illustrates every segment.
func (s *Set) GenerateImages(ctx context.Context, in stage.Input, report stage.Reporter) (any, error) {
	return s.perSegment(ctx, in, report, imageKind)
}

func (s *Set) perSegment(ctx context.Context, in stage.Input, report stage.Reporter, kind mediaKind) (any, error) {
	var segments SegmentsResult
	if err := in.Results.Decode(ScriptPostprocessing, &segments); err != nil {
		return nil, err
	}
	var title TitleResult
	if in.Results.Has(TitleGeneration) {
		if err := in.Results.Decode(TitleGeneration, &title); err != nil {
			return nil, err
		}
	}
	if len(segments.Segments) == 0 {
		return nil, services.Wrap(services.ErrValidation, in.Stage, "segments", "no segments to process", nil)
	}

	logger := stageLogger(in)
	total := len(segments.Segments)
	result := ArtifactsResult{Artifacts: make([]Artifact, 0, total)}
	for i, seg := range segments.Segments {
		if i > 0 {
			if err := in.Pause(ctx); err != nil {
				return nil, err
			}
		}
		if existing, ok := existingArtifact(in, kind, seg.Index); ok {
			result.Artifacts = append(result.Artifacts, existing)
			report.Progress(stage.Fraction(i+1, total), fmt.Sprintf("segment %d/%d reused", i+1, total))
			continue
		}

		resp, err := s.generate(ctx, in, kind.build(in, title.Title, seg), string(kind.op))
		if err != nil {
			return nil, err
		}
		if len(resp.Data) == 0 {
			return nil, services.Wrap(services.ErrTransient, in.Stage, "generate",
				fmt.Sprintf("provider returned no %s data for segment %d", kind.op, seg.Index), nil)
		}
		path := tmpPath(in, kind.dir, segmentFile(seg.Index, extensionFor(resp.MIMEType, kind.defaultExt)))
		if err := fileutil.WriteFileAtomic(path, resp.Data, 0o644); err != nil {
			return nil, services.Wrap(services.ErrTransient, in.Stage, "write artifact", path, err)
		}
		result.Artifacts = append(result.Artifacts, Artifact{
			Segment:  seg.Index,
			Path:     path,
			MIMEType: resp.MIMEType,
			Bytes:    int64(len(resp.Data)),
			Provider: resp.Provider,
		})
		report.Progress(stage.Fraction(i+1, total), fmt.Sprintf("segment %d/%d", i+1, total))
		logger.Debug("segment artifact written",
			logging.String(logging.FieldEventType, "artifact_written"),
			logging.Int("segment", seg.Index),
			logging.String("path", path),
			logging.String(logging.FieldProvider, resp.Provider))
	}
	logger.Info("segment artifacts ready",
		logging.String(logging.FieldEventType, "artifacts_ready"),
		logging.String("kind", string(kind.op)),
		logging.Int("count", len(result.Artifacts)))
	return result, nil
}

// existingArtifact finds a segment file left by an interrupted attempt.
func existingArtifact(in stage.Input, kind mediaKind, index int) (Artifact, bool) {
	matches, err := filepath.Glob(tmpPath(in, kind.dir, segmentFile(index, ".*")))
	if err != nil {
		return Artifact{}, false
	}
	for _, path := range matches {
		if strings.HasPrefix(filepath.Base(path), ".") {
			continue
		}
		info, err := os.Stat(path)
		if err != nil || info.IsDir() || info.Size() == 0 {
			continue
		}
		return Artifact{
			Segment:  index,
			Path:     path,
			MIMEType: mime.TypeByExtension(filepath.Ext(path)),
			Bytes:    info.Size(),
			Reused:   true,
		}, true
	}
	return Artifact{}, false
}

func segmentFile(index int, ext string) string {
	return fmt.Sprintf("segment-%03d%s", index, ext)
}

var preferredExt = map[string]string{
	"audio/mpeg":  ".mp3",
	"audio/mp3":   ".mp3",
	"audio/wav":   ".wav",
	"audio/x-wav": ".wav",
	"audio/L16":   ".pcm",
	"audio/ogg":   ".ogg",
	"audio/aac":   ".aac",
	"audio/flac":  ".flac",
	"image/png":   ".png",
	"image/jpeg":  ".jpg",
	"image/webp":  ".webp",
}

func extensionFor(mimeType, fallback string) string {
	base, _, _ := strings.Cut(strings.TrimSpace(mimeType), ";")
	if ext, ok := preferredExt[base]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(base); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return fallback
}
