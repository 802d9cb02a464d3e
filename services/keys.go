// Package services holds the typed cache helpers for each domain area. Every
// service goes through a cache.Store and owns its own key namespace and TTLs.
package services

import (
	"time"

	"github.com/learnwise/cachecore/cache"
)

func sessionKey(sessionID string) string   { return cache.Key(cache.PrefixSession, sessionID, "data") }
func userSessionsKey(userID string) string { return cache.Key(cache.PrefixSession, "user", userID) }
func userProfileKey(userID string) string  { return cache.Key(cache.PrefixUser, "profile", userID) }
func permissionsKey(userID string) string  { return cache.Key(cache.PrefixPermissions, "user", userID) }
func userPattern(userID string) string     { return cache.Key(cache.PrefixUser, userID, "*") }

func tradingDataKey(symbol string) string { return cache.Key(cache.PrefixTrading, symbol, "data") }
func orderBookKey(symbol string) string   { return cache.Key(cache.PrefixTrading, symbol, "orderbook") }
func marketPriceKey(symbol string) string { return cache.Key(cache.PrefixMarket, "price", symbol) }
func portfolioKey(userID string) string   { return cache.Key(cache.PrefixTrading, "portfolio", userID) }

func courseKey(courseID string) string        { return cache.Key(cache.PrefixCourse, courseID, "data") }
func courseModulesKey(courseID string) string { return cache.Key(cache.PrefixCourse, courseID, "modules") }
func moduleKey(moduleID string) string        { return cache.Key(cache.PrefixModule, moduleID, "data") }
func moduleLessonsKey(moduleID string) string { return cache.Key(cache.PrefixModule, moduleID, "lessons") }
func lessonKey(lessonID string) string        { return cache.Key(cache.PrefixLesson, lessonID, "data") }
func courseListKey(filter any) string         { return cache.Key(cache.PrefixCourse, "list", cache.Digest(filter)) }
func analyticsKey(courseID string) string     { return cache.Key(cache.PrefixAnalytics, "course", courseID) }
func progressKey(userID, courseID string) string {
	return cache.Key(cache.PrefixUser, userID, "progress", courseID)
}

var popularCoursesKey = cache.Key(cache.PrefixCourse, "popular", "list")

func queryKey(name string, params any) string {
	return cache.Key(cache.PrefixCache, "query", name, cache.Digest(params))
}

// Tags shared with the HTTP cache so route responses and service entries are
// invalidated together.
func CourseTag(courseID string) string { return cache.Key(cache.PrefixCourse, courseID) }
func ModuleTag(moduleID string) string { return cache.Key(cache.PrefixModule, moduleID) }
func LessonTag(lessonID string) string { return cache.Key(cache.PrefixLesson, lessonID) }
func SymbolTag(symbol string) string   { return cache.Key(cache.PrefixTrading, symbol) }

// CoursesTag marks every course listing.
const CoursesTag = "courses"

func ttlOr(ttl, def time.Duration) time.Duration {
	if ttl > 0 {
		return ttl
	}
	return def
}
