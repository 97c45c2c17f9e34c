package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"github.com/kode4food/buildflow"
	"github.com/kode4food/buildflow/internal/config"
	"github.com/kode4food/buildflow/internal/job"
	"github.com/kode4food/buildflow/pkg/api"
	"github.com/kode4food/buildflow/pkg/log"
)

type (
	// HTTPResolver resolves jobs on a remote build server. The server is
	// expected to expose:
	//
	//	GET  /job/{name}                     job description
	//	POST /job/{name}/build               schedule, returns {"id": ...}
	//	GET  /job/{name}/build/{id}          build status
	//	POST /job/{name}/build/{id}/abort    stop a build
	//
	// The build result is read from the status document at ResultPath and
	// is empty or null while the build is still running
	HTTPResolver struct {
		client     *resty.Client
		resultPath string
		poll       time.Duration
	}

	remoteJob struct {
		resolver  *HTTPResolver
		name      api.JobName
		buildable bool
	}

	remoteBuild struct {
		resolver *HTTPResolver
		job      api.JobName
		id       string
	}

	scheduleRequest struct {
		Params   api.Params `json:"params,omitempty"`
		RunID    api.RunID  `json:"run_id"`
		Cause    string     `json:"cause"`
		Upstream string     `json:"upstream,omitempty"`
	}
)

var (
	ErrBuildServer    = errors.New("build server error")
	ErrMissingBuildID = errors.New("build server returned no build id")
	ErrBuildVanished  = errors.New("build no longer known to build server")
)

var (
	_ job.Resolver = (*HTTPResolver)(nil)
	_ job.Job      = (*remoteJob)(nil)
	_ job.Build    = (*remoteBuild)(nil)
)

// NewHTTPResolver creates a resolver for the build server described by cfg
func NewHTTPResolver(cfg config.BuildServerConfig) *HTTPResolver {
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.URL, "/")).
		SetTimeout(cfg.RequestTimeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", buildflow.UserAgent)
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}
	return &HTTPResolver{
		client:     client,
		resultPath: cfg.ResultPath,
		poll:       cfg.PollInterval,
	}
}

// Resolve looks the job up on the build server
func (r *HTTPResolver) Resolve(
	ctx context.Context, name api.JobName,
) (job.Job, error) {
	resp, err := r.client.R().SetContext(ctx).
		SetPathParam("name", string(name)).
		Get("/job/{name}")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", job.ErrJobNotFound, name)
	}
	if err := checkResponse(resp); err != nil {
		return nil, err
	}

	buildable := gjson.GetBytes(resp.Body(), "buildable")
	return &remoteJob{
		resolver:  r,
		name:      name,
		buildable: !buildable.Exists() || buildable.Bool(),
	}, nil
}

func (j *remoteJob) Name() api.JobName {
	return j.name
}

// Schedule submits a build. A job that is not buildable, or a 409 from the
// server, declines the request
func (j *remoteJob) Schedule(
	ctx context.Context, req *job.Request,
) (job.Build, error) {
	if !j.buildable {
		return nil, nil
	}

	r := j.resolver
	resp, err := r.client.R().SetContext(ctx).
		SetPathParam("name", string(j.name)).
		SetBody(&scheduleRequest{
			Params:   req.Params,
			RunID:    req.Cause.RunID,
			Cause:    req.Cause.String(),
			Upstream: req.Cause.UpstreamString(),
		}).
		Post("/job/{name}/build")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() == http.StatusConflict {
		slog.Info("Build server declined job", log.Job(j.name))
		return nil, nil
	}
	if err := checkResponse(resp); err != nil {
		return nil, err
	}

	id := gjson.GetBytes(resp.Body(), "id").String()
	if id == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingBuildID, j.name)
	}
	return &remoteBuild{
		resolver: r,
		job:      j.name,
		id:       id,
	}, nil
}

func (b *remoteBuild) ID() string {
	return b.id
}

// Await polls the build status until a result is reported. Failed polls are
// logged and retried, except when the server no longer knows the build
func (b *remoteBuild) Await(ctx context.Context) (api.Result, error) {
	ticker := time.NewTicker(b.resolver.poll)
	defer ticker.Stop()

	for {
		res, done, err := b.status(ctx)
		if errors.Is(err, ErrBuildVanished) {
			return api.Failure, err
		}
		if err != nil && ctx.Err() == nil {
			slog.Warn("Build status poll failed",
				log.Job(b.job),
				slog.String("build_id", b.id),
				log.Error(err))
		}
		if done {
			return res, err
		}

		select {
		case <-ctx.Done():
			return api.Aborted, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Abort asks the build server to stop the build
func (b *remoteBuild) Abort(ctx context.Context) error {
	resp, err := b.resolver.client.R().SetContext(ctx).
		SetPathParams(map[string]string{
			"name": string(b.job),
			"id":   b.id,
		}).
		Post("/job/{name}/build/{id}/abort")
	if err != nil {
		return err
	}
	return checkResponse(resp)
}

func (b *remoteBuild) status(
	ctx context.Context,
) (api.Result, bool, error) {
	resp, err := b.resolver.client.R().SetContext(ctx).
		SetPathParams(map[string]string{
			"name": string(b.job),
			"id":   b.id,
		}).
		Get("/job/{name}/build/{id}")
	if err != nil {
		return api.Success, false, err
	}
	if resp.StatusCode() == http.StatusNotFound {
		return api.Failure, true,
			fmt.Errorf("%w: %s %s", ErrBuildVanished, b.job, b.id)
	}
	if err := checkResponse(resp); err != nil {
		return api.Success, false, err
	}

	value := gjson.GetBytes(resp.Body(), b.resolver.resultPath)
	if !value.Exists() || value.Type == gjson.Null || value.String() == "" {
		return api.Success, false, nil
	}
	res, err := api.ParseResult(strings.ToUpper(value.String()))
	if err != nil {
		return api.Failure, true, err
	}
	return res, true, nil
}

func checkResponse(resp *resty.Response) error {
	if !resp.IsError() {
		return nil
	}
	return fmt.Errorf("%w: HTTP %d: %s",
		ErrBuildServer, resp.StatusCode(), strings.TrimSpace(resp.String()))
}
