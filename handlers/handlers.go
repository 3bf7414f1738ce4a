package handlers

import (
	"io"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/TiunovNN/video-compression-model/clients"
	"github.com/TiunovNN/video-compression-model/config"
	"github.com/TiunovNN/video-compression-model/log"
	"github.com/TiunovNN/video-compression-model/queue"
	"github.com/TiunovNN/video-compression-model/store"
)

type TranscodingAPIHandlersCollection struct {
	Repo      store.Repository
	Objects   clients.ObjectStore
	Publisher queue.Publisher
	Cli       config.Cli
}

func (d *TranscodingAPIHandlersCollection) Ok() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		if _, err := io.WriteString(w, "OK"); err != nil {
			log.LogNoTaskID("Failed to write HTTP response for " + req.URL.RawPath)
		}
	}
}
