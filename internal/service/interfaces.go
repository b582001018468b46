package service

import (
	"context"

	"github.com/yuqie6/IdleCraft/internal/collector"
	"github.com/yuqie6/IdleCraft/internal/persistence"
)

// 外部依赖的最小接口集合（ISP）

// SaveFileSource 待导入存档文件的来源，由 collector.SaveFileCollector 实现
type SaveFileSource interface {
	Start(ctx context.Context) error
	Stop() error
	Events() <-chan collector.SaveFileEvent
}

// FileImporter 由 GameService 实现
type FileImporter interface {
	ImportFile(ctx context.Context, path string) (*persistence.SaveRecord, error)
}
