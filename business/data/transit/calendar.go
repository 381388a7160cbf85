package transit

import (
	"github.com/jmoiron/sqlx"
)

// Calendar is a record from a gtfs calendar.txt file. Weekday flags and
// dates keep the GTFS wire form.
type Calendar struct {
	ServiceID string `db:"service_id" json:"service_id" csv:"service_id"`
	Monday    int    `db:"monday" json:"monday" csv:"monday"`
	Tuesday   int    `db:"tuesday" json:"tuesday" csv:"tuesday"`
	Wednesday int    `db:"wednesday" json:"wednesday" csv:"wednesday"`
	Thursday  int    `db:"thursday" json:"thursday" csv:"thursday"`
	Friday    int    `db:"friday" json:"friday" csv:"friday"`
	Saturday  int    `db:"saturday" json:"saturday" csv:"saturday"`
	Sunday    int    `db:"sunday" json:"sunday" csv:"sunday"`
	StartDate string `db:"start_date" json:"start_date" csv:"start_date"`
	EndDate   string `db:"end_date" json:"end_date" csv:"end_date"`
}

// CalendarDate is a record from a gtfs calendar_dates.txt file.
type CalendarDate struct {
	ServiceID     string `db:"service_id" json:"service_id" csv:"service_id"`
	Date          string `db:"date" json:"date" csv:"date"`
	ExceptionType int    `db:"exception_type" json:"exception_type" csv:"exception_type"`
}

// RecordCalendars saves service calendars to the database in batch,
// replacing fields of services already present.
func RecordCalendars(calendars []*Calendar, db *sqlx.DB) error {
	if len(calendars) == 0 {
		return nil
	}

	statementString := "insert into gtfs_calendar (service_id, " +
		"monday, tuesday, wednesday, thursday, friday, saturday, sunday, " +
		"start_date, " +
		"end_date) values " +
		"(:service_id, " +
		":monday, :tuesday, :wednesday, :thursday, :friday, :saturday, :sunday, " +
		":start_date, " +
		":end_date) " +
		"on conflict (service_id) do update set " +
		"monday = excluded.monday, " +
		"tuesday = excluded.tuesday, " +
		"wednesday = excluded.wednesday, " +
		"thursday = excluded.thursday, " +
		"friday = excluded.friday, " +
		"saturday = excluded.saturday, " +
		"sunday = excluded.sunday, " +
		"start_date = excluded.start_date, " +
		"end_date = excluded.end_date"
	statementString = db.Rebind(statementString)
	_, err := db.NamedExec(statementString, calendars)
	return err
}

// RecordCalendarDates saves service exceptions to the database in batch,
// replacing rows already present.
func RecordCalendarDates(calendarDates []*CalendarDate, db *sqlx.DB) error {
	if len(calendarDates) == 0 {
		return nil
	}

	statementString := "insert into gtfs_calendar_dates (service_id, " +
		"date, " +
		"exception_type) values " +
		"(:service_id, " +
		":date, " +
		":exception_type) " +
		"on conflict (service_id, date) do update set " +
		"exception_type = excluded.exception_type"
	statementString = db.Rebind(statementString)
	_, err := db.NamedExec(statementString, calendarDates)
	return err
}
