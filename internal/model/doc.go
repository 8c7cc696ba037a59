// Package model defines the records shared by the apportionment engine, its
// data sources and sinks, and the run history store.
package model
