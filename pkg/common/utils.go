/*
 Licensed to the Apache Software Foundation (ASF) under one
 or more contributor license agreements.  See the NOTICE file
 distributed with this work for additional information
 regarding copyright ownership.  The ASF licenses this file
 to you under the Apache License, Version 2.0 (the
 "License"); you may not use this file except in compliance
 with the License.  You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

package common

import (
	"sort"
	"time"
)

// MinFloat64 returns the smaller of two capacities.
func MinFloat64(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// MaxFloat64 returns the larger of two capacities.
func MaxFloat64(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// SecondsToDuration converts a fractional seconds config value.
func SecondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

// SortedStrings returns a sorted copy, leaving the input untouched.
func SortedStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}

// StringSet builds a membership set from a slice.
func StringSet(in []string) map[string]bool {
	set := make(map[string]bool, len(in))
	for _, s := range in {
		set[s] = true
	}
	return set
}

// Diff returns the entries of current that are not present in previous,
// preserving the order of current.
func Diff(current, previous []string) []string {
	prev := StringSet(previous)
	var out []string
	for _, s := range current {
		if !prev[s] {
			out = append(out, s)
		}
	}
	return out
}
