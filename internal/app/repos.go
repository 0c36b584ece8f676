package app

import (
	"gorm.io/gorm"

	uploadrepo "github.com/framewell/studio-qc-backend/internal/data/repos/qc"
	"github.com/framewell/studio-qc-backend/internal/platform/logger"
)

type Repos struct {
	Upload uploadrepo.UploadRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Upload: uploadrepo.NewUploadRepo(db, log),
	}
}
