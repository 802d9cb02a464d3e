package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	tagKeyPrefix    = PrefixCache + ":tag:"
	tagMemberPrefix = PrefixCache + ":tags:"
)

// TagKey is the index entry recording that key carries tag.
func TagKey(tag, key string) string {
	return tagKeyPrefix + tag + ":" + key
}

// TagMembersKey is the set of every key ever tagged with tag. Members whose
// TagKey entry has expired are ignored on invalidation.
func TagMembersKey(tag string) string {
	return tagMemberPrefix + tag
}

// Tag records key under every tag with the same ttl as the entry itself.
func (s *Store) Tag(ctx context.Context, key string, ttl time.Duration, tags ...string) bool {
	if len(tags) == 0 {
		return true
	}
	entries := make(map[string][]byte, len(tags))
	for _, tag := range tags {
		entries[TagKey(tag, key)] = []byte("1")
	}
	if !s.SetMany(ctx, entries, ttl) {
		return false
	}
	ok := true
	for _, tag := range tags {
		ok = s.addMember(ctx, tag, key, ttl) && ok
	}
	return ok
}

// addMember adds key to the tag's member set and stretches the set lifetime
// to cover the new entry.
func (s *Store) addMember(ctx context.Context, tag, key string, ttl time.Duration) bool {
	members := s.prefixKey(TagMembersKey(tag))
	ctx, span := s.startSpan(ctx, "tag", members)
	defer span.End()

	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	err := func() error {
		if err := s.client.SAdd(qctx, members, key).Err(); err != nil {
			return err
		}
		if ttl <= 0 {
			return s.client.Persist(qctx, members).Err()
		}
		current, err := s.client.PTTL(qctx, members).Result()
		if err != nil {
			return err
		}
		// -1 means no expiry, which already covers ttl
		if current != -1 && current < ttl {
			return s.client.PExpire(qctx, members, ttl).Err()
		}
		return nil
	}()
	if err != nil {
		s.metrics.recordError()
		s.fail(span, "tag", members, err)
		return false
	}
	s.succeed(span)
	return true
}

// InvalidateTag deletes every key recorded under tag and the index entries
// themselves, returning the number of tagged keys. Entries written while the
// invalidation runs may survive.
func (s *Store) InvalidateTag(ctx context.Context, tag string) int {
	members := s.prefixKey(TagMembersKey(tag))
	ctx, span := s.startSpan(ctx, "invalidatetag", tag)
	defer span.End()

	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	keys, err := s.client.SMembers(qctx, members).Result()
	if err != nil {
		s.metrics.recordError()
		s.fail(span, "invalidatetag", tag, err)
		return 0
	}
	if len(keys) == 0 {
		s.succeed(span)
		return 0
	}

	checks := make([]*redis.IntCmd, len(keys))
	_, err = s.client.Pipelined(qctx, func(pipe redis.Pipeliner) error {
		for i, k := range keys {
			checks[i] = pipe.Exists(qctx, s.prefixKey(TagKey(tag, k)))
		}
		return nil
	})
	if err != nil {
		s.metrics.recordError()
		s.fail(span, "invalidatetag", tag, err)
		return 0
	}
	s.succeed(span)

	victims := make([]string, 0, len(keys)*2+1)
	var tagged int
	for i, k := range keys {
		if checks[i].Val() > 0 {
			victims = append(victims, k, TagKey(tag, k))
			tagged++
		}
	}
	victims = append(victims, TagMembersKey(tag))
	s.Del(ctx, victims...)
	s.logger.Debug("invalidated tag %s (%d keys)", tag, tagged)
	return tagged
}

// InvalidatePattern deletes every key matching the glob pattern and returns
// how many were found.
func (s *Store) InvalidatePattern(ctx context.Context, pattern string) int {
	keys := s.Keys(ctx, pattern)
	if len(keys) == 0 {
		return 0
	}
	s.Del(ctx, keys...)
	s.logger.Debug("invalidated pattern %s (%d keys)", pattern, len(keys))
	return len(keys)
}
