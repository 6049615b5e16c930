package http_test

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/collectiond/internal/auth"
	httpserver "github.com/fyrsmithlabs/collectiond/internal/http"
	"github.com/fyrsmithlabs/collectiond/internal/lifecycle"
)

func ExampleServer() {
	var coord *lifecycle.Coordinator // built from the stores in cmd/collectiond

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	_, err := httpserver.NewServer(coord, auth.NewStaticAuthenticator(nil), logger, &httpserver.Config{
		Host:      "localhost",
		Port:      8080,
		RateLimit: 20,
		RateBurst: 40,
	})
	fmt.Println(err)

	// Output: coordinator cannot be nil
}
