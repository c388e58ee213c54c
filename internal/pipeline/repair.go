package pipeline

import (
	"context"

	"visdom/internal/domain"
	"visdom/internal/providers/codegen"
)

// repair extends the first-attempt conversation with the failed script and
// the renderer's diagnostic tail and asks the generator once for a fix.
func (o *Orchestrator) repair(ctx context.Context, original codegen.Prompt, failed *domain.Attempt, diagnostics []string) (string, error) {
	o.metrics.repairRequested()
	p := o.prompts.Repair(original, failed.Script, diagnostics)
	return o.generate(ctx, p, failed.Ordinal+1)
}
