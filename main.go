// Command taskflow serves the browser task client: the web module plus,
// unless SUPABASE_URL and SUPABASE_ANON_KEY select the hosted gateway, the
// embedded auth, task, objects and feed modules.
package main

import (
	"context"
	"log"
	"os"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/go-monolith/mono"
	"github.com/joho/godotenv"

	"github.com/example/taskflow/app"
	"github.com/example/taskflow/modules/web"
)

func main() {
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded .env")
	}
	log.Println("=== taskflow - Fiber + mono modules ===")

	cfg := app.ConfigFromEnv()
	stack, err := app.Start(context.Background(), cfg, func(s *app.Stack) []mono.Module {
		webModule := web.NewModule(s.Logger.WithModule("web"))
		if s.Configured() {
			webModule.SetGatewayFactory(s.Mode, s.NewGateway)
		}
		if s.Hub != nil {
			webModule.SetHub(s.Hub)
		}
		return []mono.Module{webModule}
	})
	if err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	printStartupInfo(stack.Mode)

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		app.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"mono-app": func(ctx context.Context) error {
				log.Println("Graceful shutdown initiated...")
				return stack.Stop(ctx)
			},
		},
	)

	exitCode := <-wait
	log.Printf("Application exited with code: %d", exitCode)
	os.Exit(exitCode)
}

func printStartupInfo(mode string) {
	port := app.GetEnv("PORT", "3000")

	log.Println("")
	log.Println("Application started successfully!")
	log.Printf("  Gateway: %s", mode)
	if mode == app.ModeEmbedded {
		log.Printf("  Public images: %s", app.GetEnv("PUBLIC_STORAGE_URL", "http://localhost:"+app.GetEnv("STORAGE_PORT", "8081")))
		if os.Getenv("DATABASE_URL") != "" {
			log.Println("  Tasks: postgres (DATABASE_URL)")
		} else {
			log.Printf("  Tasks: sqlite (%s)", app.GetEnv("DB_PATH", "taskflow.db"))
		}
		if addr := os.Getenv("REDIS_ADDR"); addr != "" {
			log.Printf("  Cache and rate limits: redis %s", addr)
		}
	}
	log.Println("")
	log.Printf("REST API Endpoints (http://localhost:%s):", port)
	log.Println("  GET    /health                        - Health check")
	log.Println("  POST   /api/v1/session/sign-in        - Sign in")
	log.Println("  POST   /api/v1/session/sign-up        - Create an account")
	log.Println("  GET    /api/v1/view                   - Current view state")
	log.Println("  POST   /api/v1/tasks                  - Create a task")
	log.Println("")
	log.Printf("WebSocket Endpoint (ws://localhost:%s/ws):", port)
	log.Println("  Pushes the view state after every change")
	log.Println("")
	log.Println("Press Ctrl+C to shutdown gracefully")
}
