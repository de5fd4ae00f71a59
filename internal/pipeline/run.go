package pipeline

import (
	"context"
	"fmt"

	"github.com/loqalabs/radiodrama/internal/casting"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/loqalabs/radiodrama/pipeline")

// Stages is the default order of a full run.
var Stages = []string{StageText, StageSpeech, StageAmbience, StageMerge}

// Result is what a run produced.
type Result struct {
	Outputs []string
	Timbres map[string]string
}

// Run executes stages, in the order given, for one source. A merge stage
// writes the single-chapter drama to output.
func (p *Pipeline) Run(ctx context.Context, runID, source string, stages []string, cast *casting.Casting, output string) (Result, error) {
	if len(stages) == 0 {
		stages = Stages
	}
	p.recorder.Begin(ctx, runID, source)
	res, err := p.run(ctx, runID, source, stages, cast, output)
	p.recorder.Finish(ctx, runID, source, err)
	return res, err
}

func (p *Pipeline) run(ctx context.Context, runID, source string, stages []string, cast *casting.Casting, output string) (Result, error) {
	var res Result
	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		sctx, span := tracer.Start(ctx, "pipeline."+stage)
		span.SetAttributes(attribute.String("run_id", runID), attribute.String("source", source))
		err := p.stage(sctx, runID, source, stage, cast, output, &res)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if err != nil {
			return res, err
		}
	}
	return res, nil
}

func (p *Pipeline) stage(ctx context.Context, runID, source, stage string, cast *casting.Casting, output string, res *Result) error {
	layout := p.Layout(source)
	switch stage {
	case StageText:
		if err := p.Text(ctx, runID, source); err != nil {
			return err
		}
		res.Outputs = append(res.Outputs, layout.DialogFile(), layout.RoleFile(), layout.IntervalFile())
	case StageSpeech:
		if cast == nil {
			return fmt.Errorf("speech stage needs a casting")
		}
		timbres, err := p.Speech(ctx, runID, source, cast)
		if err != nil {
			return err
		}
		res.Timbres = timbres
		res.Outputs = append(res.Outputs, layout.SpeechTrack())
	case StageAmbience:
		if err := p.Ambience(ctx, runID, source); err != nil {
			return err
		}
		res.Outputs = append(res.Outputs, layout.AmbienceTrack())
	case StageMerge:
		if err := p.Merge(ctx, runID, []string{source}, output); err != nil {
			return err
		}
		res.Outputs = append(res.Outputs, output)
	default:
		return fmt.Errorf("unknown stage %q", stage)
	}
	return nil
}
