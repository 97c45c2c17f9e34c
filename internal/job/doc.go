// Package job models invocations of external build jobs
//
// A Resolver maps job names to invocable Jobs, a Job schedules a Build on the
// external execution facility, and a Handle tracks one invocation from the
// moment it is scheduled until its terminal result is known
package job
