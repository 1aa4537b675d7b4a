package scheduler

import (
	"context"
	"time"

	"github.com/flurbudurbur/localsync/internal/domain"
	"github.com/flurbudurbur/localsync/internal/status"

	"github.com/rs/zerolog"
)

// jobTimeout bounds the queue reads a job makes.
const jobTimeout = 10 * time.Second

type UploadTrigger interface {
	Trigger()
}

// UploadRetryJob requests an upload pass while entries are queued. Uploads
// that failed are retried this way, local writes trigger uploads on their own.
type UploadRetryJob struct {
	Name    string
	Log     zerolog.Logger
	Uploads UploadTrigger
	Status  status.Service
	Crud    domain.CrudRepo
}

func (j *UploadRetryJob) Run() {
	st := j.Status.Current()
	if !st.Connected || st.Uploading {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	n, err := j.Crud.Count(ctx)
	if err != nil {
		j.Log.Error().Err(err).Msg("could not count queued entries")
		return
	}
	if n == 0 {
		return
	}

	j.Log.Debug().Int("queued", n).AnErr("last_error", st.UploadError).Msg("retrying upload")
	j.Uploads.Trigger()
}

// StatusLogJob writes a one-line summary of the sync state.
type StatusLogJob struct {
	Name   string
	Log    zerolog.Logger
	Status status.Service
	Crud   domain.CrudRepo
}

func (j *StatusLogJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	n, err := j.Crud.Count(ctx)
	if err != nil {
		j.Log.Error().Err(err).Msg("could not count queued entries")
		return
	}

	j.Log.Info().Int("queued", n).Msgf("sync status: %s", j.Status.Current())
}
