package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/softcodezyne-ui/codezyne-lms-sub007/models"
	"gorm.io/gorm"
)

type CourseHandler struct {
	DB *gorm.DB
}

func (h *CourseHandler) ListCourses(c *fiber.Ctx) error {
	var courses []models.Course
	if err := h.DB.Where("is_published = ?", true).Order("created_at DESC").Find(&courses).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": "Database error"})
	}
	return c.JSON(fiber.Map{"success": true, "data": courses})
}

func (h *CourseHandler) GetCourse(c *fiber.Ctx) error {
	courseID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "Invalid course ID format"})
	}

	var course models.Course
	if err := h.DB.Preload("Instructor").Where("id = ? AND is_published = ?", courseID, true).First(&course).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"success": false, "error": "Course not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": "Database error"})
	}
	return c.JSON(fiber.Map{"success": true, "data": course})
}
