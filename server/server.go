package server

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"quadsim/models"
	"quadsim/server/fastview"
	"quadsim/server/field_views"
	"quadsim/server/root_view"

	"github.com/gorilla/mux"
	channerics "github.com/niceyeti/channerics/channels"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownGracePeriod = 5 * time.Second

// Server serves a single page visualizing a transition dataset, and streams view updates
// to it over a websocket as new dataset snapshots arrive. The update stream has a single
// consumer: one websocket client at a time receives updates.
type Server struct {
	ctx      context.Context
	addr     string
	convert  func(*models.Dataset) [][]field_views.Bin
	latest   atomic.Pointer[models.Dataset]
	rootView *root_view.RootView
	router   *mux.Router
	logger   *zap.Logger
}

// NewServer builds the views and routes. The page renders @initial until snapshots
// arrive on @datasets; the latest snapshot is kept for page reloads.
func NewServer(
	ctx context.Context,
	addr string,
	converter *field_views.Converter,
	initial *models.Dataset,
	datasets <-chan *models.Dataset,
	logger *zap.Logger,
) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	server := &Server{
		ctx:     ctx,
		addr:    addr,
		convert: converter.Convert,
		logger:  logger,
	}
	server.latest.Store(initial)

	tracked := channerics.Convert(ctx.Done(), datasets, func(ds *models.Dataset) *models.Dataset {
		server.latest.Store(ds)
		return ds
	})

	var err error
	if server.rootView, err = root_view.NewRootView(ctx, server.convert, tracked); err != nil {
		return nil, err
	}

	server.router = mux.NewRouter()
	server.router.HandleFunc("/", server.serveIndex).Methods(http.MethodGet)
	server.router.HandleFunc("/ws", server.serveWebsocket)
	return server, nil
}

// Handler returns the server's routes.
func (server *Server) Handler() http.Handler {
	return server.router
}

// Serve listens until the server's context is cancelled or listening fails.
func (server *Server) Serve() error {
	srv := &http.Server{
		Addr:    server.addr,
		Handler: server.router,
	}

	group, groupCtx := errgroup.WithContext(server.ctx)
	group.Go(func() error {
		server.logger.Info("serving", zap.String("addr", server.addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return group.Wait()
}

// serveWebsocket publishes view updates to the client until it disconnects.
func (server *Server) serveWebsocket(w http.ResponseWriter, r *http.Request) {
	cli, err := fastview.NewClient(server.ctx, server.rootView.Updates(), w, r, server.logger)
	if err != nil {
		server.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	if err := cli.Sync(); err != nil {
		server.logger.Info("websocket client dropped", zap.Error(err))
	}
}

// serveIndex renders the main page from the latest dataset.
func (server *Server) serveIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	bins := server.convert(server.latest.Load())
	if err := renderTemplate(w, server.rootView, bins); err != nil {
		server.logger.Error("render index", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func renderTemplate(
	w io.Writer,
	vc fastview.ViewComponent,
	data interface{},
) (err error) {
	t := template.New("index.html")
	var tname string
	if tname, err = vc.Parse(t); err != nil {
		return
	}
	if _, err = t.Parse(`{{ template "` + tname + `" . }}`); err != nil {
		return
	}

	err = t.Execute(w, data)
	return
}
