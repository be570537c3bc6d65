// Command stockpile-profile runs a synthetic simulation workload against the
// registry and writes pprof profiles plus tracker reports, for sizing the
// allocators and the query cache.
package main

import (
	"flag"
	"math/rand"
	"os"

	"github.com/pkg/profile"
	"github.com/rs/zerolog"

	"github.com/thornmill/stockpile"
)

type position struct{ X, Y float64 }

type velocity struct{ X, Y float64 }

type health struct{ Current, Max int32 }

var (
	positionComp = stockpile.FactoryNewComponent[position]()
	velocityComp = stockpile.FactoryNewComponent[velocity]()
	healthComp   = stockpile.FactoryNewComponent[health]()
)

func main() {
	var (
		mode     = flag.String("profile", "cpu", "profile to capture: cpu, mem or off")
		entities = flag.Int("entities", 100_000, "entities to spawn")
		frames   = flag.Int("frames", 600, "simulation frames to run")
		report   = flag.String("report", "", "write a tracker JSON report to this path")
	)
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	switch *mode {
	case "cpu":
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(".")).Stop()
	case "mem":
		defer profile.Start(profile.MemProfile, profile.ProfilePath(".")).Stop()
	}

	trackerCfg := stockpile.DefaultTrackerConfig()
	trackerCfg.Logger = &log
	tracker := stockpile.NewMemoryTracker(trackerCfg)

	cfg := stockpile.DefaultConfig()
	cfg.Tracker = tracker
	cfg.Logger = &log
	registry, err := stockpile.Factory.NewRegistry(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("creating registry")
	}

	// Two thirds plain movers, one third with health, so queries span
	// multiple archetypes.
	movers := *entities * 2 / 3
	if _, err := registry.NewEntities(movers, positionComp, velocityComp); err != nil {
		log.Fatal().Err(err).Msg("spawning movers")
	}
	mortals, err := registry.NewEntities(*entities-movers, positionComp, velocityComp, healthComp)
	if err != nil {
		log.Fatal().Err(err).Msg("spawning mortals")
	}

	movement := stockpile.Factory.NewQuery().Named("movement").With(positionComp, velocityComp)
	damage := stockpile.Factory.NewQuery().Named("damage").With(healthComp)
	manager := stockpile.Factory.NewQueryManager(registry)
	damageQuery := manager.Register(damage)

	rng := rand.New(rand.NewSource(1))
	for frame := 0; frame < *frames; frame++ {
		cursor := stockpile.Factory.NewCursor(movement, registry)
		for cursor.Next() {
			pos := positionComp.GetFromCursor(cursor)
			vel := velocityComp.GetFromCursor(cursor)
			pos.X += vel.X
			pos.Y += vel.Y
		}

		for _, e := range damageQuery.Entities() {
			if hp := healthComp.GetFromEntity(registry, e); hp != nil {
				hp.Current--
			}
		}

		// Churn a slice of the mortal population to exercise migration,
		// destruction and cache invalidation.
		if frame%60 == 59 && len(mortals) > 0 {
			victim := mortals[rng.Intn(len(mortals))]
			if registry.Alive(victim) {
				if err := registry.DestroyEntity(victim); err != nil {
					log.Warn().Err(err).Msg("destroying entity")
				}
			}
			if _, err := registry.NewEntity(positionComp, velocityComp, healthComp); err != nil {
				log.Warn().Err(err).Msg("respawning entity")
			}
		}
	}

	usage := registry.MemoryUsage()
	pressure := tracker.Pressure()
	log.Info().
		Int("entities", registry.ActiveEntities()).
		Int("archetypes", registry.ArchetypeCount()).
		Int("column_bytes", usage.ColumnBytes).
		Int("arena_used", usage.ArenaUsed).
		Int("pool_in_use", usage.PoolBlocksInUse).
		Str("pressure", pressure.Level.String()).
		Msg("simulation finished")

	if cache := registry.Cache(); cache != nil {
		stats := cache.Stats()
		log.Info().
			Uint64("hits", stats.Hits).
			Uint64("misses", stats.Misses).
			Float64("hit_rate", stats.HitRate()).
			Msg("query cache")
	}
	for _, qs := range manager.Slowest(5) {
		log.Info().Str("query", qs.Name).Dur("avg", qs.AverageTime()).Uint64("execs", qs.Executions).Msg("query timing")
	}

	if *report != "" {
		if err := tracker.ExportJSON(*report); err != nil {
			log.Error().Err(err).Msg("writing tracker report")
		}
	}
}
