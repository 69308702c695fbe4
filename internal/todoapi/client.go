// Package todoapi talks to the todo REST endpoints.
package todoapi

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/idilsaglam/tada/internal/apperr"
	"github.com/idilsaglam/tada/internal/model"
	"github.com/idilsaglam/tada/internal/transport"
)

// Client is safe for concurrent use.
type Client struct {
	http *transport.Client
}

// New wraps an HTTP transport.
func New(t *transport.Client) *Client {
	return &Client{http: t}
}

type listResponse struct {
	Success bool             `json:"success"`
	Todos   []model.TodoItem `json:"todos"`
}

type itemResponse struct {
	Success bool           `json:"success"`
	Todo    model.TodoItem `json:"todo"`
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type createRequest struct {
	Text        string `json:"text"`
	Description string `json:"description,omitempty"`
	OwnerEmail  string `json:"userEmail"`
}

type updateRequest struct {
	model.TodoPatch
	OwnerEmail string `json:"userEmail"`
}

func requireOwner(owner string) error {
	if strings.TrimSpace(owner) == "" {
		return apperr.New(apperr.KindValidation, "User email is required").WithReason(apperr.ReasonMissingOwner)
	}
	return nil
}

// List fetches every item owned by owner.
func (c *Client) List(ctx context.Context, owner string) ([]model.TodoItem, error) {
	if err := requireOwner(owner); err != nil {
		return nil, err
	}
	var out listResponse
	if err := c.http.Get(ctx, "/todos", url.Values{"userEmail": {owner}}, &out); err != nil {
		return nil, err
	}
	if out.Todos == nil {
		out.Todos = []model.TodoItem{}
	}
	return out.Todos, nil
}

// Create adds an item and returns it as stored by the server.
func (c *Client) Create(ctx context.Context, owner, text, description string) (model.TodoItem, error) {
	if err := requireOwner(owner); err != nil {
		return model.TodoItem{}, err
	}
	var out itemResponse
	err := c.http.Post(ctx, "/todos", createRequest{Text: text, Description: description, OwnerEmail: owner}, &out)
	if err != nil {
		return model.TodoItem{}, err
	}
	return out.Todo, nil
}

// Update applies patch to item id.
func (c *Client) Update(ctx context.Context, owner string, id int64, patch model.TodoPatch) (model.TodoItem, error) {
	if err := requireOwner(owner); err != nil {
		return model.TodoItem{}, err
	}
	var out itemResponse
	err := c.http.Put(ctx, "/todos/"+strconv.FormatInt(id, 10), updateRequest{TodoPatch: patch, OwnerEmail: owner}, &out)
	if err != nil {
		return model.TodoItem{}, err
	}
	return out.Todo, nil
}

// Delete removes item id.
func (c *Client) Delete(ctx context.Context, owner string, id int64) error {
	if err := requireOwner(owner); err != nil {
		return err
	}
	var out messageResponse
	return c.http.Delete(ctx, "/todos/"+strconv.FormatInt(id, 10), url.Values{"userEmail": {owner}}, &out)
}
