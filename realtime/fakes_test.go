package realtime_test

import (
	"context"
	"strings"
	"sync"

	"github.com/marcelsud/webhook-relay/realtime"
)

var validToken = strings.Repeat("t", realtime.MinTokenLength)

type fakeTransport struct {
	mu          sync.Mutex
	connected   bool
	connectErr  error
	closeErr    error
	block       chan struct{}
	connects    int
	disconnects int
	tokens      []string
	specs       []realtime.ChannelSpec
	onChange    map[realtime.Channel]func(realtime.RawChange)
	onStatus    map[realtime.Channel]func(realtime.SubscriptionStatus, error)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		onChange: map[realtime.Channel]func(realtime.RawChange){},
		onStatus: map[realtime.Channel]func(realtime.SubscriptionStatus, error){},
	}
}

func (f *fakeTransport) Connect(ctx context.Context, token string) error {
	f.mu.Lock()
	f.connects++
	f.tokens = append(f.tokens, token)
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeTransport) Subscribe(_ context.Context, spec realtime.ChannelSpec, onChange func(realtime.RawChange), onStatus func(realtime.SubscriptionStatus, error)) error {
	f.mu.Lock()
	f.specs = append(f.specs, spec)
	f.onChange[spec.Channel] = onChange
	f.onStatus[spec.Channel] = onStatus
	f.mu.Unlock()
	onStatus(realtime.StatusSubscribed, nil)
	return nil
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.connected = false
	return f.closeErr
}

func (f *fakeTransport) setConnected(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = v
}

func (f *fakeTransport) setConnectErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectErr = err
}

func (f *fakeTransport) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *fakeTransport) disconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}

func (f *fakeTransport) lastToken() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.tokens) == 0 {
		return ""
	}
	return f.tokens[len(f.tokens)-1]
}

func (f *fakeTransport) emit(ch realtime.Channel, raw string) {
	f.mu.Lock()
	fn := f.onChange[ch]
	f.mu.Unlock()
	fn(realtime.RawChange(raw))
}

func (f *fakeTransport) status(ch realtime.Channel, st realtime.SubscriptionStatus, err error) {
	f.mu.Lock()
	fn := f.onStatus[ch]
	f.mu.Unlock()
	fn(st, err)
}

type fakeCredentials struct {
	mu        sync.Mutex
	token     string
	listeners map[int]func(string)
	next      int
}

func newFakeCredentials(token string) *fakeCredentials {
	return &fakeCredentials{token: token, listeners: map[int]func(string){}}
}

func (f *fakeCredentials) Token() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token
}

func (f *fakeCredentials) OnChange(fn func(string)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	f.listeners[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners, id)
	}
}

func (f *fakeCredentials) set(token string) {
	f.mu.Lock()
	f.token = token
	fns := make([]func(string), 0, len(f.listeners))
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(token)
	}
}
