package services

import (
	"context"
	"sort"
	"time"

	"github.com/learnwise/cachecore/cache"
	"github.com/learnwise/cachecore/logger"
)

// Default TTLs for course content.
const (
	CourseTTL          = time.Hour
	PopularCoursesTTL  = 30 * time.Minute
	CourseListTTL      = 10 * time.Minute
	UserProgressTTL    = 5 * time.Minute
	CourseAnalyticsTTL = 15 * time.Minute
)

// CourseSummary is the shape of the popular-courses list.
type CourseSummary struct {
	ID          string  `json:"id" msgpack:"id"`
	Title       string  `json:"title" msgpack:"title"`
	Enrollments int64   `json:"enrollments" msgpack:"enrollments"`
	Rating      float64 `json:"rating" msgpack:"rating"`
}

// Capsule is one lesson of a module at its position after a reorder.
type Capsule struct {
	ID       string `json:"id" msgpack:"id"`
	Position int    `json:"position" msgpack:"position"`
	Payload  any    `json:"payload,omitempty" msgpack:"payload,omitempty"`
}

// CourseCache caches courses and everything hanging off them. Entries are
// tagged with their course, module or lesson so an edit drops every derived
// entry at once.
type CourseCache struct {
	store  *cache.Store
	logger logger.Logger
}

func NewCourseCache(store *cache.Store) *CourseCache {
	return &CourseCache{store: store, logger: logger.WithComponent(store.Logger(), "courses")}
}

func (c *CourseCache) CacheCourse(ctx context.Context, courseID string, course any, ttl time.Duration) bool {
	return c.store.Save(ctx, courseKey(courseID), course, ttlOr(ttl, CourseTTL), CourseTag(courseID), CoursesTag)
}

func (c *CourseCache) GetCourse(ctx context.Context, courseID string, out any) bool {
	return c.store.Load(ctx, courseKey(courseID), out)
}

func (c *CourseCache) CacheCourseModules(ctx context.Context, courseID string, modules any, ttl time.Duration) bool {
	return c.store.Save(ctx, courseModulesKey(courseID), modules, ttlOr(ttl, CourseTTL), CourseTag(courseID))
}

func (c *CourseCache) GetCourseModules(ctx context.Context, courseID string, out any) bool {
	return c.store.Load(ctx, courseModulesKey(courseID), out)
}

func (c *CourseCache) CacheModule(ctx context.Context, moduleID string, module any, ttl time.Duration) bool {
	return c.store.Save(ctx, moduleKey(moduleID), module, ttlOr(ttl, CourseTTL), ModuleTag(moduleID))
}

func (c *CourseCache) GetModule(ctx context.Context, moduleID string, out any) bool {
	return c.store.Load(ctx, moduleKey(moduleID), out)
}

// CacheModuleLessons caches the lesson order of a module. Payloads are not
// part of the list; lessons are cached on their own with CacheLesson.
func (c *CourseCache) CacheModuleLessons(ctx context.Context, moduleID string, lessons []Capsule, ttl time.Duration) bool {
	return cache.SetValue(ctx, c.store, moduleLessonsKey(moduleID), lessonOrder(lessons), ttlOr(ttl, CourseTTL), ModuleTag(moduleID))
}

func (c *CourseCache) GetModuleLessons(ctx context.Context, moduleID string) ([]Capsule, bool) {
	return cache.GetValue[[]Capsule](ctx, c.store, moduleLessonsKey(moduleID))
}

// lessonOrder sorts capsules by position and drops their payloads.
func lessonOrder(capsules []Capsule) []Capsule {
	ordered := make([]Capsule, len(capsules))
	for i, capsule := range capsules {
		ordered[i] = Capsule{ID: capsule.ID, Position: capsule.Position}
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Position < ordered[j].Position })
	return ordered
}

func (c *CourseCache) CacheLesson(ctx context.Context, lessonID string, lesson any, ttl time.Duration) bool {
	return c.store.Save(ctx, lessonKey(lessonID), lesson, ttlOr(ttl, CourseTTL), LessonTag(lessonID))
}

func (c *CourseCache) GetLesson(ctx context.Context, lessonID string, out any) bool {
	return c.store.Load(ctx, lessonKey(lessonID), out)
}

func (c *CourseCache) CachePopularCourses(ctx context.Context, courses []CourseSummary, ttl time.Duration) bool {
	return c.store.Save(ctx, popularCoursesKey, courses, ttlOr(ttl, PopularCoursesTTL), CoursesTag)
}

func (c *CourseCache) GetCachedPopularCourses(ctx context.Context) ([]CourseSummary, bool) {
	return cache.GetValue[[]CourseSummary](ctx, c.store, popularCoursesKey)
}

// CacheCourseList caches a listing page under a digest of its filter.
func (c *CourseCache) CacheCourseList(ctx context.Context, filter any, list any, ttl time.Duration) bool {
	return c.store.Save(ctx, courseListKey(filter), list, ttlOr(ttl, CourseListTTL), CoursesTag)
}

func (c *CourseCache) GetCourseList(ctx context.Context, filter any, out any) bool {
	return c.store.Load(ctx, courseListKey(filter), out)
}

func (c *CourseCache) CacheUserProgress(ctx context.Context, userID, courseID string, progress any, ttl time.Duration) bool {
	return c.store.Save(ctx, progressKey(userID, courseID), progress, ttlOr(ttl, UserProgressTTL), CourseTag(courseID))
}

func (c *CourseCache) GetUserProgress(ctx context.Context, userID, courseID string, out any) bool {
	return c.store.Load(ctx, progressKey(userID, courseID), out)
}

func (c *CourseCache) CacheCourseAnalytics(ctx context.Context, courseID string, analytics any, ttl time.Duration) bool {
	return c.store.Save(ctx, analyticsKey(courseID), analytics, ttlOr(ttl, CourseAnalyticsTTL), CourseTag(courseID))
}

func (c *CourseCache) GetCourseAnalytics(ctx context.Context, courseID string, out any) bool {
	return c.store.Load(ctx, analyticsKey(courseID), out)
}

// InvalidateCourse drops the course, everything tagged with it and every
// listing that might include it.
func (c *CourseCache) InvalidateCourse(ctx context.Context, courseID string) int {
	n := c.store.InvalidateTag(ctx, CourseTag(courseID))
	n += c.store.InvalidatePattern(ctx, cache.Key(cache.PrefixCourse, courseID, "*"))
	n += c.store.InvalidateTag(ctx, CoursesTag)
	c.logger.Debug("invalidated course %s (%d keys)", courseID, n)
	return n
}

func (c *CourseCache) InvalidateModule(ctx context.Context, moduleID string) int {
	n := c.store.InvalidateTag(ctx, ModuleTag(moduleID))
	return n + c.store.InvalidatePattern(ctx, cache.Key(cache.PrefixModule, moduleID, "*"))
}

func (c *CourseCache) InvalidateLesson(ctx context.Context, lessonID string) int {
	n := c.store.InvalidateTag(ctx, LessonTag(lessonID))
	return n + c.store.InvalidatePattern(ctx, cache.Key(cache.PrefixLesson, lessonID, "*"))
}

// ReorderCapsules replaces the cached lesson order of a module. Stale module
// entries are dropped, then the ordered list and every capsule payload are
// written in one round trip and tagged with the module.
func (c *CourseCache) ReorderCapsules(ctx context.Context, moduleID string, capsules []Capsule, ttl time.Duration) bool {
	ttl = ttlOr(ttl, CourseTTL)
	codec := c.store.Codec()
	entries := make(map[string][]byte, len(capsules)+1)
	list, err := codec.Marshal(lessonOrder(capsules))
	if err != nil {
		c.logger.Warn("encode lessons of module %s: %v", moduleID, err)
		return false
	}
	entries[moduleLessonsKey(moduleID)] = list
	for _, capsule := range capsules {
		if capsule.Payload == nil {
			continue
		}
		data, err := codec.Marshal(capsule.Payload)
		if err != nil {
			c.logger.Warn("encode lesson %s: %v", capsule.ID, err)
			return false
		}
		entries[lessonKey(capsule.ID)] = data
	}

	tag := ModuleTag(moduleID)
	c.store.InvalidateTag(ctx, tag)
	if !c.store.SetMany(ctx, entries, ttl) {
		return false
	}
	ok := true
	for k := range entries {
		ok = c.store.Tag(ctx, k, ttl, tag) && ok
	}
	return ok
}
