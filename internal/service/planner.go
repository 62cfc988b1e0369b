package service

import "time"

// DayAllocation is a future calendar day's share of an oversized batch.
type DayAllocation struct {
	Date  time.Time
	Leads int
}

// BatchPlan splits a pending batch into today's sends plus future-day queue
// allocations. SendNow + sum(Future) always equals the total pending input.
type BatchPlan struct {
	SendNow int
	Future  []DayAllocation
}

// TotalQueued sums the future-day allocations.
func (p BatchPlan) TotalQueued() int {
	total := 0
	for _, a := range p.Future {
		total += a.Leads
	}
	return total
}

// PlanBatch computes today's allocation under the remaining daily quota and
// spreads the overflow over the following days, at most one day-limit worth
// per day. maxBatch additionally caps any single day's allocation so a run
// always fits the host's execution window; overflow moves forward rather
// than being truncated.
func PlanBatch(totalPending, dailyLimit, currentUsage, maxBatch int, today time.Time) BatchPlan {
	if totalPending <= 0 {
		return BatchPlan{}
	}

	remainingToday := dailyLimit - currentUsage
	if remainingToday < 0 {
		remainingToday = 0
	}

	sendNow := totalPending
	if sendNow > remainingToday {
		sendNow = remainingToday
	}
	if maxBatch > 0 && sendNow > maxBatch {
		sendNow = maxBatch
	}

	perDay := dailyLimit
	if maxBatch > 0 && perDay > maxBatch {
		perDay = maxBatch
	}
	if perDay < 1 {
		perDay = 1
	}

	plan := BatchPlan{SendNow: sendNow}
	overflow := totalPending - sendNow
	day := UsageDay(today)
	for overflow > 0 {
		day = day.AddDate(0, 0, 1)
		alloc := perDay
		if alloc > overflow {
			alloc = overflow
		}
		plan.Future = append(plan.Future, DayAllocation{Date: day, Leads: alloc})
		overflow -= alloc
	}
	return plan
}

// NextRunTime returns the configured local hour on the day after last, the
// moment a fully deferred campaign is scheduled to resume.
func NextRunTime(last time.Time, hour int, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := last.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, 0, 0, 0, loc)
	return next.AddDate(0, 0, 1)
}
