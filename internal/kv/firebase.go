package kv

import (
	"context"
	"fmt"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"google.golang.org/api/option"
)

// Firebase stores blobs as strings under a Realtime Database node.
type Firebase struct {
	root *db.Ref
}

// OpenFirebase initializes the app from a service account key file. A
// database url without the https scheme, such as localhost:9000?ns=funnel,
// addresses the Realtime Database emulator and needs no key.
func OpenFirebase(ctx context.Context, credentialsPath, databaseURL, root string) (*Firebase, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("firebase database url is required")
	}
	cfg := &firebase.Config{DatabaseURL: databaseURL}
	var opts []option.ClientOption
	switch {
	case credentialsPath != "":
		opts = append(opts, option.WithCredentialsFile(credentialsPath))
	case strings.HasPrefix(databaseURL, "https://"):
		return nil, fmt.Errorf("firebase credentials path is required for %s", databaseURL)
	default:
		cfg.ProjectID = emulatorProject
	}

	app, err := firebase.NewApp(ctx, cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialize firebase app: %w", err)
	}
	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("get database client: %w", err)
	}
	if root == "" {
		root = "funnel"
	}
	return &Firebase{root: client.NewRef(root)}, nil
}

const emulatorProject = "funnel-emulator"

// Realtime Database keys may not contain these characters.
var firebaseKeyEscaper = strings.NewReplacer(".", "%2E", "$", "%24", "#", "%23", "[", "%5B", "]", "%5D", "/", "%2F")

func (f *Firebase) ref(key string) *db.Ref {
	return f.root.Child(firebaseKeyEscaper.Replace(key))
}

func (f *Firebase) Get(ctx context.Context, key string) ([]byte, error) {
	var value string
	if err := f.ref(key).Get(ctx, &value); err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	// Missing nodes decode as JSON null, leaving value empty.
	if value == "" {
		return nil, ErrNotFound
	}
	return []byte(value), nil
}

func (f *Firebase) Set(ctx context.Context, key string, value []byte) error {
	if err := f.ref(key).Set(ctx, string(value)); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (f *Firebase) Delete(ctx context.Context, key string) error {
	if err := f.ref(key).Delete(ctx); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (f *Firebase) Close() error { return nil }
