package main

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
)

type Operations = []Operation

// Operation is one batch job: a file and the transformation to preview it with.
// Exactly one field is set.
type Operation struct {
	Rotation    *RotationOperation
	Scaling     *ScalingOperation
	Translation *TranslationOperation
}

type RotationOperation struct {
	Filename string `json:"filename"`
	// Angle is in degrees.
	Angle float64 `json:"angle"`
}

type ScalingOperation struct {
	Filename string  `json:"filename"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}

type TranslationOperation struct {
	Filename string `json:"filename"`
	X        int    `json:"x"`
	Y        int    `json:"y"`
}

// unmarshal
func (o *Operation) UnmarshalJSON(data []byte) error {
	var op struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &op); err != nil {
		return fmt.Errorf("failed to unmarshal operation: %w", err)
	}

	kind, err := ParseKind(op.Type)
	if err != nil {
		return fmt.Errorf("unknown operation %q", op.Type)
	}

	switch kind {
	case KindRotation:
		var rot RotationOperation
		if err := json.Unmarshal(data, &rot); err != nil {
			return fmt.Errorf("failed to unmarshal rotation operation: %w", err)
		}
		o.Rotation = &rot
	case KindScaling:
		scale := ScalingOperation{X: 1, Y: 1}
		if err := json.Unmarshal(data, &scale); err != nil {
			return fmt.Errorf("failed to unmarshal scaling operation: %w", err)
		}
		o.Scaling = &scale
	case KindTranslation:
		var tr TranslationOperation
		if err := json.Unmarshal(data, &tr); err != nil {
			return fmt.Errorf("failed to unmarshal translation operation: %w", err)
		}
		o.Translation = &tr
	}
	return nil
}

func (o Operation) MarshalJSON() ([]byte, error) {
	var payload any
	switch {
	case o.Rotation != nil:
		payload = struct {
			Type Kind `json:"type"`
			RotationOperation
		}{KindRotation, *o.Rotation}
	case o.Scaling != nil:
		payload = struct {
			Type Kind `json:"type"`
			ScalingOperation
		}{KindScaling, *o.Scaling}
	case o.Translation != nil:
		payload = struct {
			Type Kind `json:"type"`
			TranslationOperation
		}{KindTranslation, *o.Translation}
	default:
		return nil, fmt.Errorf("empty operation")
	}
	return json.Marshal(payload)
}

func (o Operation) Filename() string {
	switch {
	case o.Rotation != nil:
		return o.Rotation.Filename
	case o.Scaling != nil:
		return o.Scaling.Filename
	case o.Translation != nil:
		return o.Translation.Filename
	}
	return ""
}

func (o Operation) Params() Params {
	p := DefaultParams()
	switch {
	case o.Rotation != nil:
		p.Kind = KindRotation
		p.Angle = o.Rotation.Angle
	case o.Scaling != nil:
		p.Kind = KindScaling
		p.ScaleX, p.ScaleY = o.Scaling.X, o.Scaling.Y
	case o.Translation != nil:
		p.Kind = KindTranslation
		p.TranslateX, p.TranslateY = o.Translation.X, o.Translation.Y
	}
	return p
}

// ID is stable for the same source file and parameters, so reruns overwrite
// their own output while photo.jpg and photo.png, or a/x.jpg and b/x.jpg, do not
// collide.
func (o Operation) ID() string {
	m := md5.New()
	_, err := fmt.Fprintf(m, "%s\x00%s", filepath.ToSlash(filepath.Clean(o.Filename())), o.Params().Caption())
	if err != nil {
		log.Error().Err(err).Msg("failed to hash operation")
		return ""
	}
	return fmt.Sprintf("%x", m.Sum(nil))[:12]
}

// OutputName is the file the result of o is written to.
func (o Operation) OutputName() string {
	base := strings.TrimSuffix(filepath.Base(o.Filename()), filepath.Ext(o.Filename()))
	return fmt.Sprintf("%s-%s-%s.png", base, o.Params().Kind, o.ID())
}

type OperationExecutor struct {
	BaseDir   string
	OutputDir string
	Loader    Loader
}

func (r OperationExecutor) Exec(ctx context.Context, ops []Operation) error {
	if len(ops) == 0 {
		log.Ctx(ctx).Warn().Msg("no operations to execute")
		return nil
	}

	pooler := pool.New().WithErrors().WithContext(ctx).WithMaxGoroutines(runtime.NumCPU())

	if err := os.MkdirAll(r.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", r.OutputDir, err)
	}
	for _, op := range ops {
		pooler.Go(func(ctx context.Context) error {
			if err := r.executeOperation(ctx, op); err != nil {
				log.Ctx(ctx).Error().Err(err).
					Str("filename", op.Filename()).
					Str("op", op.Params().Caption()).
					Msg("failed to execute operation")
				return err
			}
			return nil
		})
	}

	if err := pooler.Wait(); err != nil {
		log.Ctx(ctx).Error().
			Err(err).
			Msg("finished with errors")
		return err
	}

	return nil
}

func (r OperationExecutor) executeOperation(ctx context.Context, op Operation) error {
	if op.Filename() == "" {
		return fmt.Errorf("operation without filename")
	}
	params := op.Params()
	log.Ctx(ctx).Info().Str("filename", op.Filename()).Str("op", params.Caption()).Msg("transforming")

	sourcePath := filepath.Join(r.BaseDir, op.Filename())
	data, err := os.ReadFile(sourcePath)
	if err != nil {
		return fmt.Errorf("failed to read file %s: %w", sourcePath, err)
	}

	original, err := r.Loader.Load(op.Filename(), data)
	if err != nil {
		return err
	}
	result, err := Apply(Grayscale(original.Image), params)
	if err != nil {
		return fmt.Errorf("%s: %w", op.Filename(), err)
	}

	var b bytes.Buffer
	if err := imaging.Encode(&b, result, imaging.PNG); err != nil {
		return fmt.Errorf("failed to encode %s: %w", op.Filename(), err)
	}

	outPath := filepath.Join(r.OutputDir, op.OutputName())
	if err := os.WriteFile(outPath, b.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", outPath, err)
	}
	return nil
}
