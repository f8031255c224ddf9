package main

import (
	"log/slog"

	"github.com/cognidex/crystal/pkg/logger"
)

func main() {
	// Create a colored logger
	log := logger.NewDefaultLogger(slog.LevelDebug)

	log.Info("============================================")
	log.Info("    Crystal Colored Logger Demo")
	log.Info("============================================")
	log.Info("")

	log.Debug("Debug message - standard color")
	log.Info("Info message - standard color")
	log.Info("Persisting entities to store - green!")
	log.Info("Fact commit complete - also green!")
	log.Warn("Warning message - yellow!")
	log.Error("Error message - red!")

	log.Info("")
	log.Info("Store operations are highlighted in green:")
	log.Info("Committing fact unit", "participants", 3, "context", "ctx-42")
	log.Info("Upserting merged entities", "count", 42, "batch_size", 100)
	log.Info("Watermark advanced", "sequence", 1024)

	log.Info("")
	log.Warn("Warnings appear in yellow for attention")
	log.Error("Errors appear in red for immediate visibility")

	log.Info("")
	log.Info("Demo complete!")
}
