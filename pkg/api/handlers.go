package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"streamdb/pkg/logger"
	"streamdb/pkg/models"
	"streamdb/pkg/stream"
	"streamdb/pkg/utils"
)

// --- /v1/objects ---

func (a *API) createObject(w http.ResponseWriter, r *http.Request) {
	fields, ok := decodeBody(w, r)
	if !ok {
		return
	}
	obj, err := a.backend.CreateObject(r.Context(), fields)
	if err != nil {
		writeError(w, err)
		return
	}
	logger.Info("object_created", "id", obj["id"])
	_ = utils.JSONWrite(w, http.StatusCreated, obj)
}

func (a *API) getObjects(w http.ResponseWriter, r *http.Request) {
	ids := splitParam(r.URL.Query().Get("ids"))
	objs, err := a.backend.GetObjects(r.Context(), ids)
	if err != nil {
		writeError(w, err)
		return
	}
	if objs == nil {
		objs = []map[string]any{}
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]any{"objects": objs})
}

// --- /v1/activities ---

func (a *API) createActivity(w http.ResponseWriter, r *http.Request) {
	fields, ok := decodeBody(w, r)
	if !ok {
		return
	}
	act, err := a.backend.CreateActivity(r.Context(), fields)
	if err != nil {
		writeError(w, err)
		return
	}
	logger.Info("activity_created", "id", act["id"], "verb", act["verb"])
	_ = utils.JSONWrite(w, http.StatusCreated, act)
}

func (a *API) getActivities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ids := splitParam(q.Get("ids"))

	opts := stream.GetActivitiesOptions{}
	for _, field := range []string{"verb", "actor", "object", "target"} {
		if vals, ok := q[field]; ok && len(vals) > 0 {
			if opts.Filters == nil {
				opts.Filters = map[string][]any{}
			}
			for _, v := range vals {
				opts.Filters[field] = append(opts.Filters[field], v)
			}
		}
	}
	for _, field := range models.AudienceFields {
		if allowed := splitParam(q.Get(field)); len(allowed) > 0 {
			if opts.AudienceTargeting == nil {
				opts.AudienceTargeting = map[string][]string{}
			}
			opts.AudienceTargeting[field] = allowed
		}
	}
	opts.IncludePublic = q.Get("includePublic") == "true"
	if groupBy := splitParam(q.Get("groupBy")); len(groupBy) > 0 {
		opts.AggregationPipeline = []stream.Aggregator{
			&stream.PropertyAggregator{Properties: groupBy},
		}
	}

	acts, err := a.backend.GetActivities(r.Context(), ids, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]any{"activities": acts})
}

func (a *API) deleteActivity(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := a.backend.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	logger.Info("activity_deleted", "id", id)
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// --- reactions ---

func (a *API) createReply(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	body, ok := decodeBody(w, r)
	if !ok {
		return
	}
	actor, present := body["actor"]
	if !present {
		utils.JSONError(w, http.StatusBadRequest, "actor is required")
		return
	}
	reply, parent, err := a.backend.CreateReply(r.Context(), id, actor, body["content"])
	if err != nil {
		writeError(w, err)
		return
	}
	logger.Info("reply_created", "activity", id, "reply", reply["id"])
	_ = utils.JSONWrite(w, http.StatusCreated, map[string]any{"reply": reply, "activity": parent})
}

func (a *API) createLike(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	body, ok := decodeBody(w, r)
	if !ok {
		return
	}
	actor, present := body["actor"]
	if !present {
		utils.JSONError(w, http.StatusBadRequest, "actor is required")
		return
	}
	like, parent, err := a.backend.CreateLike(r.Context(), id, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	logger.Info("like_created", "activity", id, "like", like["id"])
	_ = utils.JSONWrite(w, http.StatusCreated, map[string]any{"like": like, "activity": parent})
}

func (a *API) deleteReply(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	parent, err := a.backend.DeleteReply(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	logger.Info("reply_deleted", "reply", id)
	_ = utils.JSONWrite(w, http.StatusOK, map[string]any{"activity": parent})
}

func (a *API) deleteLike(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	parent, err := a.backend.DeleteLike(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	logger.Info("like_deleted", "like", id)
	_ = utils.JSONWrite(w, http.StatusOK, map[string]any{"activity": parent})
}

// decodeBody reads a JSON object body, writing the error response
// itself when the payload is not valid JSON.
func decodeBody(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return nil, false
	}
	return fields, true
}

func splitParam(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
