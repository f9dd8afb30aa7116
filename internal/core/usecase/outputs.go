package usecase

import (
	"context"

	"github.com/kirillkom/mditd/internal/core/domain"
	"github.com/kirillkom/mditd/internal/core/ports"
)

type OutputsUseCase struct {
	resolver ports.OutputResolver
	store    ports.FileStore
}

func NewOutputsUseCase(resolver ports.OutputResolver, store ports.FileStore) *OutputsUseCase {
	return &OutputsUseCase{resolver: resolver, store: store}
}

// ListOutputs lists Markdown files in a validated output directory without creating it.
func (uc *OutputsUseCase) ListOutputs(ctx context.Context, outputDir string) (domain.OutputTarget, []domain.OutputFile, error) {
	if err := ctx.Err(); err != nil {
		return domain.OutputTarget{}, nil, err
	}
	target, err := uc.resolver.LookupOutputDir(outputDir)
	if err != nil {
		return domain.OutputTarget{}, nil, err
	}
	files, err := uc.store.ListOutputs(target)
	if err != nil {
		return domain.OutputTarget{}, nil, err
	}
	return target, files, nil
}
