package gitlab

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// CurrentUser returns the user the token belongs to.
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	var u User
	if err := c.getJSON(ctx, "/user", nil, &u); err != nil {
		return nil, fmt.Errorf("failed to fetch current user: %w", err)
	}
	return &u, nil
}

// GetUser returns a user by ID. is_admin is only visible to administrators.
func (c *Client) GetUser(ctx context.Context, id int) (*User, error) {
	var u User
	if err := c.getJSON(ctx, "/users/"+strconv.Itoa(id), nil, &u); err != nil {
		return nil, fmt.Errorf("failed to fetch user %d: %w", id, err)
	}
	return &u, nil
}

// FindUserByUsername returns the user with exactly this username, or nil.
func (c *Client) FindUserByUsername(ctx context.Context, username string) (*User, error) {
	var users []User
	if err := c.getJSON(ctx, "/users", map[string]string{"username": username}, &users); err != nil {
		return nil, fmt.Errorf("failed to look up user %q: %w", username, err)
	}
	for i := range users {
		if strings.EqualFold(users[i].Username, username) {
			return &users[i], nil
		}
	}
	return nil, nil
}

// SearchUsers searches users by name, username or email.
func (c *Client) SearchUsers(ctx context.Context, query string) ([]User, error) {
	users, err := fetchAll[User](ctx, c, "/users", map[string]string{"search": query})
	if err != nil {
		return nil, fmt.Errorf("failed to search users for %q: %w", query, err)
	}
	return users, nil
}

// CreateUser creates an account. Requires an administrator token.
func (c *Client) CreateUser(ctx context.Context, opts CreateUserOptions) (*User, error) {
	var u User
	if err := c.sendJSON(ctx, http.MethodPost, "/users", opts, &u); err != nil {
		return nil, fmt.Errorf("failed to create user %q: %w", opts.Username, err)
	}
	return &u, nil
}

// SetAdmin grants or revokes the administrator flag.
func (c *Client) SetAdmin(ctx context.Context, id int, admin bool) (*User, error) {
	var u User
	if err := c.sendJSON(ctx, http.MethodPut, "/users/"+strconv.Itoa(id), map[string]bool{"admin": admin}, &u); err != nil {
		return nil, fmt.Errorf("failed to set admin=%t on user %d: %w", admin, id, err)
	}
	return &u, nil
}

// BlockUser blocks an account so it cannot sign in.
func (c *Client) BlockUser(ctx context.Context, id int) error {
	if err := c.sendJSON(ctx, http.MethodPost, "/users/"+strconv.Itoa(id)+"/block", nil, nil); err != nil {
		return fmt.Errorf("failed to block user %d: %w", id, err)
	}
	return nil
}
