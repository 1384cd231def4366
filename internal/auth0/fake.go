package auth0

import (
	"context"
	"sync"
)

// FakeClient serves canned profiles keyed by access token.
type FakeClient struct {
	mu    sync.Mutex
	users map[string]*UserInfo
	calls int
}

func NewFakeClient() *FakeClient {
	return &FakeClient{
		users: make(map[string]*UserInfo),
	}
}

func (c *FakeClient) GetUserInfo(_ context.Context, accessToken string) (*UserInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if u, ok := c.users[accessToken]; ok {
		return u, nil
	}
	return nil, ErrUserInfoFailed
}

func (c *FakeClient) AddUser(accessToken string, info *UserInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users[accessToken] = info
}

// Calls reports how many lookups were made.
func (c *FakeClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}
