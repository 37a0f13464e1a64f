package directory_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/adapters/directory"
	. "github.com/smartystreets/goconvey/convey"
)

func TestDirectoryClient(t *testing.T) {
	Convey("Given a directory server", t, func() {
		status := http.StatusOK
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/api/employees" {
				http.NotFound(w, r)
				return
			}
			if status != http.StatusOK {
				http.Error(w, "boom", status)
				return
			}
			_, _ = fmt.Fprint(w, `[{"id":"1","email":"a@x.io","departmentName":"Eng"},{"id":"2","email":"b@x.io"}]`)
		}))
		defer srv.Close()
		c := directory.NewClient(srv.URL)

		Convey("When the roster is available", func() {
			emps, err := c.Employees(context.Background())
			So(err, ShouldBeNil)
			So(len(emps), ShouldEqual, 2)
			So(emps[0].DepartmentName, ShouldEqual, "Eng")
		})

		Convey("When the server fails", func() {
			status = http.StatusBadGateway
			_, err := c.Employees(context.Background())
			So(errors.Is(err, directory.ErrDirectory), ShouldBeTrue)
		})
	})

	Convey("Given a static roster", t, func() {
		emps, err := directory.Static{{Email: "a@x.io"}}.Employees(context.Background())
		So(err, ShouldBeNil)
		So(len(emps), ShouldEqual, 1)
	})
}
