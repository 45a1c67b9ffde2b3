package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"engage/internal/domain"
	"engage/internal/server/service"
)

type createTopicRequest struct {
	Kind  domain.ItemKind `json:"kind"`
	Title string          `json:"title"`
}

func handleCreateTopic(svc *service.EngageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createTopicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}

		topic, err := svc.CreateTopic(r.Context(), chi.URLParam(r, "eventID"), req.Kind, req.Title)
		if err != nil {
			writeJSON(w, errStatus(err), map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusCreated, topic)
	}
}

func handleListTopics(svc *service.EngageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		topics, err := svc.ListTopics(r.Context(), chi.URLParam(r, "eventID"))
		if err != nil {
			writeJSON(w, errStatus(err), map[string]string{"error": err.Error()})
			return
		}
		if topics == nil {
			topics = []*domain.Topic{}
		}
		writeJSON(w, http.StatusOK, topics)
	}
}

type pageResponse struct {
	Items      []domain.FeedItem `json:"items"`
	Page       int               `json:"page"`
	TotalPages int               `json:"total_pages"`
}

func handleTopicPage(svc *service.EngageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if before := r.URL.Query().Get("before"); before != "" {
			items, err := svc.Older(r.Context(), chi.URLParam(r, "topicID"), before)
			if err != nil {
				writeJSON(w, errStatus(err), map[string]string{"error": err.Error()})
				return
			}
			if items == nil {
				items = []domain.FeedItem{}
			}
			writeJSON(w, http.StatusOK, pageResponse{Items: items})
			return
		}

		page := 1
		if raw := r.URL.Query().Get("page"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "page must be a positive integer"})
				return
			}
			page = n
		}

		items, totalPages, err := svc.Page(r.Context(), chi.URLParam(r, "topicID"), page)
		if err != nil {
			writeJSON(w, errStatus(err), map[string]string{"error": err.Error()})
			return
		}
		if items == nil {
			items = []domain.FeedItem{}
		}
		writeJSON(w, http.StatusOK, pageResponse{Items: items, Page: page, TotalPages: totalPages})
	}
}

func handleCreateItem(svc *service.EngageService, hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := CurrentClaims(r)
		if claims == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}

		var req domain.CreateItemInput
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}

		author := service.Author{ID: claims.UserID, Name: claims.Username}
		item, topic, err := svc.CreateItem(r.Context(), chi.URLParam(r, "topicID"), author, req)
		if err != nil {
			writeJSON(w, errStatus(err), map[string]string{"error": err.Error()})
			return
		}

		pushItem(hub, topic, creationEvent(item.Kind), item)
		pushNotification(hub, topic, item)
		writeJSON(w, http.StatusCreated, item)
	}
}

type editItemRequest struct {
	Text      string `json:"text"`
	ClientRef string `json:"client_ref"`
}

func handleEditItem(svc *service.EngageService, hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := CurrentClaims(r)
		if claims == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}

		var req editItemRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}

		author := service.Author{ID: claims.UserID, Name: claims.Username}
		item, topic, err := svc.EditItem(r.Context(), chi.URLParam(r, "itemID"), author, req.Text, req.ClientRef)
		if err != nil {
			writeJSON(w, errStatus(err), map[string]string{"error": err.Error()})
			return
		}

		pushItem(hub, topic, domain.EventMessageEdited, item)
		writeJSON(w, http.StatusOK, item)
	}
}

func handleDeleteItem(svc *service.EngageService, hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := CurrentClaims(r)
		if claims == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}

		itemID := chi.URLParam(r, "itemID")
		author := service.Author{ID: claims.UserID, Name: claims.Username}
		topic, err := svc.DeleteItem(r.Context(), itemID, author)
		if err != nil {
			writeJSON(w, errStatus(err), map[string]string{"error": err.Error()})
			return
		}

		pushDelete(hub, topic, itemID)
		writeJSON(w, http.StatusOK, map[string]string{"id": itemID})
	}
}

func handleMutateItem(svc *service.EngageService, hub *Hub, op domain.MutationOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req domain.MutateItemInput
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}

		item, topic, err := svc.Mutate(r.Context(), chi.URLParam(r, "itemID"), op, req)
		if err != nil {
			writeJSON(w, errStatus(err), map[string]string{"error": err.Error()})
			return
		}

		pushItem(hub, topic, mutationEvent(item.Kind, op), item)
		writeJSON(w, http.StatusOK, item)
	}
}

func handleEndPoll(svc *service.EngageService, hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		item, topic, err := svc.EndPoll(r.Context(), chi.URLParam(r, "itemID"))
		if err != nil {
			writeJSON(w, errStatus(err), map[string]string{"error": err.Error()})
			return
		}

		pushItem(hub, topic, domain.EventPollEnded, item)
		writeJSON(w, http.StatusOK, item)
	}
}
