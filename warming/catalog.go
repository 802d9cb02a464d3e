package warming

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/learnwise/cachecore/services"
	"golang.org/x/sync/errgroup"
)

// Names of the built-in strategies.
const (
	PopularCourses   = "popular-courses"
	MarketData       = "market-data"
	CourseStructure  = "course-structure"
	AnalyticsSummary = "analytics-summary"
)

const (
	// PopularLimit is how many popular courses are fetched and warmed.
	PopularLimit = 20

	// fanOut bounds concurrent per-course source calls.
	fanOut = 4
)

// Lesson is a lesson as returned by the course source.
type Lesson struct {
	ID   string
	Data any
}

// Module is a module and its lessons in display order.
type Module struct {
	ID      string
	Data    any
	Lessons []Lesson
}

// Structure is a course with its modules.
type Structure struct {
	Course  any
	Modules []Module
}

// CourseSource reads course content from the system of record.
type CourseSource interface {
	PopularCourses(ctx context.Context, limit int) ([]services.CourseSummary, error)
	CourseStructure(ctx context.Context, courseID string) (Structure, error)
	CourseAnalytics(ctx context.Context, courseID string) (any, error)
}

// MarketSource reads the current market snapshot.
type MarketSource interface {
	MarketSnapshot(ctx context.Context) ([]services.TradingData, error)
}

// Sources is everything the default catalog reads from.
type Sources interface {
	CourseSource
	MarketSource
}

// DefaultCatalog returns the built-in strategies, enabled, writing through
// the given caches.
func DefaultCatalog(src Sources, courses *services.CourseCache, trading *services.TradingCache) []Strategy {
	return []Strategy{
		{
			Name:        PopularCourses,
			Description: "popular courses list",
			Priority:    1,
			Interval:    10 * time.Minute,
			Enabled:     true,
			Warm:        warmPopularCourses(src, courses),
		},
		{
			Name:        MarketData,
			Description: "trading data and prices for every listed symbol",
			Priority:    2,
			Interval:    time.Minute,
			Enabled:     true,
			Warm:        warmMarketData(src, trading),
		},
		{
			Name:        CourseStructure,
			Description: "course, module and lesson entries of popular courses",
			Priority:    3,
			Interval:    30 * time.Minute,
			Enabled:     true,
			Warm:        warmCourseStructure(src, courses),
		},
		{
			Name:        AnalyticsSummary,
			Description: "analytics of popular courses",
			Priority:    4,
			Interval:    15 * time.Minute,
			Enabled:     true,
			Warm:        warmAnalytics(src, courses),
		},
	}
}

func warmPopularCourses(src CourseSource, courses *services.CourseCache) WarmFunc {
	return func(ctx context.Context) (int, error) {
		list, err := src.PopularCourses(ctx, PopularLimit)
		if err != nil {
			return 0, errors.Wrap(err, "fetch popular courses")
		}
		if !courses.CachePopularCourses(ctx, list, services.PopularCoursesTTL) {
			return 0, errors.New("write popular courses")
		}
		return len(list), nil
	}
}

func warmMarketData(src MarketSource, trading *services.TradingCache) WarmFunc {
	return func(ctx context.Context) (int, error) {
		snapshot, err := src.MarketSnapshot(ctx)
		if err != nil {
			return 0, errors.Wrap(err, "fetch market snapshot")
		}
		var warmed int
		prices := make(map[string]float64, len(snapshot))
		for _, d := range snapshot {
			if trading.CacheTradingData(ctx, d, services.TradingDataTTL) {
				warmed++
			}
			prices[d.Symbol] = d.Price
		}
		if len(prices) > 0 && !trading.CacheMarketPrices(ctx, prices, services.MarketPriceTTL) {
			return warmed, errors.New("write market prices")
		}
		return warmed, nil
	}
}

// popularIDs prefers the cached popular list so the source is hit once per
// popular-courses interval.
func popularIDs(ctx context.Context, src CourseSource, courses *services.CourseCache) ([]string, error) {
	list, ok := courses.GetCachedPopularCourses(ctx)
	if !ok {
		var err error
		if list, err = src.PopularCourses(ctx, PopularLimit); err != nil {
			return nil, errors.Wrap(err, "fetch popular courses")
		}
	}
	ids := make([]string, len(list))
	for i, c := range list {
		ids[i] = c.ID
	}
	return ids, nil
}

func warmCourseStructure(src CourseSource, courses *services.CourseCache) WarmFunc {
	return func(ctx context.Context) (int, error) {
		ids, err := popularIDs(ctx, src, courses)
		if err != nil {
			return 0, err
		}
		var warmed atomic.Int64
		g, ctx := errgroup.WithContext(ctx)
		g.SetLimit(fanOut)
		for _, id := range ids {
			g.Go(func() error {
				s, err := src.CourseStructure(ctx, id)
				if err != nil {
					return errors.Wrapf(err, "fetch structure of course %s", id)
				}
				warmed.Add(int64(writeStructure(ctx, courses, id, s)))
				return nil
			})
		}
		err = g.Wait()
		return int(warmed.Load()), err
	}
}

func writeStructure(ctx context.Context, courses *services.CourseCache, courseID string, s Structure) int {
	var n int
	count := func(ok bool) {
		if ok {
			n++
		}
	}
	count(courses.CacheCourse(ctx, courseID, s.Course, services.CourseTTL))
	moduleIDs := make([]string, len(s.Modules))
	for i, m := range s.Modules {
		moduleIDs[i] = m.ID
		count(courses.CacheModule(ctx, m.ID, m.Data, services.CourseTTL))
		order := make([]services.Capsule, len(m.Lessons))
		for j, l := range m.Lessons {
			order[j] = services.Capsule{ID: l.ID, Position: j + 1}
			count(courses.CacheLesson(ctx, l.ID, l.Data, services.CourseTTL))
		}
		count(courses.CacheModuleLessons(ctx, m.ID, order, services.CourseTTL))
	}
	count(courses.CacheCourseModules(ctx, courseID, moduleIDs, services.CourseTTL))
	return n
}

func warmAnalytics(src CourseSource, courses *services.CourseCache) WarmFunc {
	return func(ctx context.Context) (int, error) {
		ids, err := popularIDs(ctx, src, courses)
		if err != nil {
			return 0, err
		}
		var warmed atomic.Int64
		g, ctx := errgroup.WithContext(ctx)
		g.SetLimit(fanOut)
		for _, id := range ids {
			g.Go(func() error {
				a, err := src.CourseAnalytics(ctx, id)
				if err != nil {
					return errors.Wrapf(err, "fetch analytics of course %s", id)
				}
				if courses.CacheCourseAnalytics(ctx, id, a, services.CourseAnalyticsTTL) {
					warmed.Add(1)
				}
				return nil
			})
		}
		err = g.Wait()
		return int(warmed.Load()), err
	}
}
